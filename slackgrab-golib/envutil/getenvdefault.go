// Package envutil reads typed configuration overrides from the environment.
package envutil

import (
	"os"
	"strconv"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

// GetenvDefault gets the value of an environment variable, or returns the
// specified default value if that variable is not set.
func GetenvDefault(name, defaultValue string) string {
	val, found := os.LookupEnv(name)
	if !found {
		return defaultValue
	}
	return val
}

// GetenvDefaultInt gets an environment variable as an int, or else returns the default.
func GetenvDefaultInt(name string, defaultVal int) (int, error) {
	val, found := os.LookupEnv(name)
	if !found {
		return defaultVal, nil
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal, errors.Wrapf(err, "environment variable %s should be an integer", name)
	}
	return intVal, nil
}

// GetenvDefaultDuration parses a duration such as "90s" or "24h".
func GetenvDefaultDuration(name string, defaultVal time.Duration) (time.Duration, error) {
	val, found := os.LookupEnv(name)
	if !found {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal, errors.Wrapf(err, "environment variable %s should be a duration", name)
	}
	return d, nil
}

// GetenvDefaultBool accepts the values understood by strconv.ParseBool.
func GetenvDefaultBool(name string, defaultVal bool) (bool, error) {
	val, found := os.LookupEnv(name)
	if !found {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal, errors.Wrapf(err, "environment variable %s should be a boolean", name)
	}
	return b, nil
}
