package mapsource

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "mapsource")
