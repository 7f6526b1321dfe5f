// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package toml

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

// MarshalText writes duration value in text format.
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// MarshalTOML write duration into valid TOML.
func (d Duration) MarshalTOML() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// Fraction is a ratio in [0,1] that may be written either as a decimal
// ("0.03") or as a percentage ("3%").
type Fraction float64

// String formats the fraction as a percentage.
func (f Fraction) String() string {
	return strconv.FormatFloat(float64(f)*100, 'g', 12, 64) + "%"
}

// Set implements pflag.Value so fractions can be bound to flags.
func (f *Fraction) Set(s string) error { return f.UnmarshalText([]byte(s)) }

// Type implements pflag.Value.
func (f *Fraction) Type() string { return "fraction" }

// UnmarshalText parses a decimal or percentage.
func (f *Fraction) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	scale := 1.0
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSuffix(s, "%")
		scale = 0.01
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parsing fraction %q: %v", text, err)
	}
	v *= scale
	if v < 0 || v > 1 {
		return fmt.Errorf("fraction %q out of range [0,1]", text)
	}
	*f = Fraction(v)
	return nil
}

// MarshalText writes the fraction as a percentage.
func (f Fraction) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// MarshalTOML writes the fraction as a quoted percentage.
func (f Fraction) MarshalTOML() ([]byte, error) {
	return []byte(strconv.Quote(f.String())), nil
}
