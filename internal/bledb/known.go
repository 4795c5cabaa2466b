package bledb

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1809": "Health Thermometer",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"181a": "Environmental Sensing",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "UART TX",
}

// companies maps Bluetooth SIG company identifiers to names.
var companies = map[uint16]string{
	0x0006: "Microsoft",
	0x004c: "Apple, Inc.",
	0x0059: "Nordic Semiconductor ASA",
	0x00e0: "Google",
	0x0131: "Cypress Semiconductor",
	0x02e5: "Espressif Systems",
	0xfffe: "Test/internal use",
}

// appearances maps GAP appearance codes to names.
var appearances = map[uint16]string{
	0x0000: "Unknown",
	0x0040: "Phone",
	0x0080: "Computer",
	0x00c0: "Watch",
	0x0300: "Thermometer",
	0x0340: "Heart Rate Sensor",
	0x0341: "Heart Rate Belt",
	0x0480: "Cycling",
	0x0540: "Sensor",
}
