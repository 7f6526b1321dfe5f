// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package exact implements arbitrary precision rational arithmetic and the
// exact geometric predicates used when floating point results fall inside
// their error bound.
package exact

import (
	"math/big"
)

// Rational is an immutable arbitrary precision fraction. The zero value is
// zero. Operations never modify their receivers or arguments.
type Rational struct {
	r *big.Rat
}

var zeroRat = new(big.Rat)

// NewRational returns num/den. It panics if den is zero.
func NewRational(num, den int64) Rational {
	return Rational{r: big.NewRat(num, den)}
}

// FromFloat returns the exact value of f. Every finite float64 is a dyadic
// rational, so no precision is lost. Non-finite values become zero.
func FromFloat(f float64) Rational {
	r := new(big.Rat)
	if r.SetFloat64(f) == nil {
		return Rational{}
	}
	return Rational{r: r}
}

func (a Rational) rat() *big.Rat {
	if a.r == nil {
		return zeroRat
	}
	return a.r
}

// Add returns a+b.
func (a Rational) Add(b Rational) Rational {
	return Rational{r: new(big.Rat).Add(a.rat(), b.rat())}
}

// Sub returns a-b.
func (a Rational) Sub(b Rational) Rational {
	return Rational{r: new(big.Rat).Sub(a.rat(), b.rat())}
}

// Mul returns a*b.
func (a Rational) Mul(b Rational) Rational {
	return Rational{r: new(big.Rat).Mul(a.rat(), b.rat())}
}

// Quo returns a/b. It panics if b is zero.
func (a Rational) Quo(b Rational) Rational {
	return Rational{r: new(big.Rat).Quo(a.rat(), b.rat())}
}

// Neg returns -a.
func (a Rational) Neg() Rational {
	return Rational{r: new(big.Rat).Neg(a.rat())}
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Rational) Cmp(b Rational) int { return a.rat().Cmp(b.rat()) }

// Sign returns -1, 0 or +1 according to the sign of a.
func (a Rational) Sign() int { return a.rat().Sign() }

// IsZero reports whether a == 0.
func (a Rational) IsZero() bool { return a.Sign() == 0 }

// Float64 returns the nearest float64 to a.
func (a Rational) Float64() float64 {
	f, _ := a.rat().Float64()
	return f
}

// String returns a as "num/den".
func (a Rational) String() string { return a.rat().String() }
