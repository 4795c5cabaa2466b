package blesim

import _ "embed"

// DefaultFleetProfile contains the embedded fleet used when no profile is given.
//
//go:embed profiles/fleet.yaml
var DefaultFleetProfile string

// HeartRateProfile contains the embedded heart rate monitor profile.
//
//go:embed profiles/heart-rate.yaml
var HeartRateProfile string
