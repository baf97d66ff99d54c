package merra

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownConversion is returned for conversion names that are not registered.
var ErrUnknownConversion = errors.New("unknown conversion")

// Conversion maps a raw archive value to the unit written to the output.
type Conversion func(float64) float64

// Identity leaves values untouched.
func Identity(x float64) float64 { return x }

// KelvinToCelsius converts temperatures such as T2M.
func KelvinToCelsius(x float64) float64 { return x - 273.15 }

var conversions = map[string]Conversion{
	"identity":          Identity,
	"kelvin_to_celsius": KelvinToCelsius,
	"kelvin_to_fahrenheit": func(x float64) float64 {
		return (x-273.15)*9/5 + 32
	},
	// kg m-2 s-1 (= mm/s) to mm per hour
	"rate_to_hourly_total": func(x float64) float64 { return x * 3600 },
	"pa_to_hpa":            func(x float64) float64 { return x / 100 },
	"ms_to_kmh":            func(x float64) float64 { return x * 3.6 },
}

// LookupConversion resolves a named conversion. Empty means identity.
func LookupConversion(name string) (Conversion, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Identity, nil
	}
	c, ok := conversions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownConversion, name, strings.Join(ConversionNames(), ", "))
	}
	return c, nil
}

// ConversionNames lists the registered conversion names in sorted order.
func ConversionNames() []string {
	names := make([]string, 0, len(conversions))
	for n := range conversions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
