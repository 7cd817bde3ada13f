// Package problems provides benchmark objectives for exercising the
// strategies in package es.
package problems

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Problem is a minimization objective over a box.
type Problem interface {
	Name() string
	Dims() int
	Evaluate(x []float64) float64
	// Bounds returns the per-dimension search box.
	Bounds() (lower, upper []float64)
}

// Func adapts a plain function to Problem.
type Func struct {
	Label string
	N     int
	F     func([]float64) float64
	Lo    float64
	Hi    float64
}

func (f Func) Name() string                 { return f.Label }
func (f Func) Dims() int                    { return f.N }
func (f Func) Evaluate(x []float64) float64 { return f.F(x) }
func (f Func) Bounds() ([]float64, []float64) {
	return fill(f.N, f.Lo), fill(f.N, f.Hi)
}

// Shifted moves the optimum of p from the origin to shift in every coordinate.
func Shifted(p Problem, shift float64) Problem {
	lo, hi := p.Bounds()
	return Func{
		Label: fmt.Sprintf("%s+%g", p.Name(), shift),
		N:     p.Dims(),
		F: func(x []float64) float64 {
			y := make([]float64, len(x))
			for i, v := range x {
				y[i] = v - shift
			}
			return p.Evaluate(y)
		},
		Lo: lo[0],
		Hi: hi[0],
	}
}

// Sphere is Σ x_i².
func Sphere(n int) Problem {
	return Func{Label: "sphere", N: n, F: sphere, Lo: -5, Hi: 5}
}

// Rosenbrock is the banana valley, minimum at (1, ..., 1).
func Rosenbrock(n int) Problem {
	return Func{Label: "rosenbrock", N: n, F: rosenbrock, Lo: -5, Hi: 10}
}

// Rastrigin is highly multimodal with a global minimum at the origin.
func Rastrigin(n int) Problem {
	return Func{Label: "rastrigin", N: n, F: rastrigin, Lo: -5.12, Hi: 5.12}
}

// Ellipsoid is Σ 10^(6 i/(n-1)) x_i², condition number 1e6.
func Ellipsoid(n int) Problem {
	return Func{Label: "ellipsoid", N: n, F: ellipsoid, Lo: -5, Hi: 5}
}

// Ackley has a nearly flat outer region and a deep hole at the origin.
func Ackley(n int) Problem {
	return Func{Label: "ackley", N: n, F: ackley, Lo: -32.768, Hi: 32.768}
}

var catalog = map[string]func(int) Problem{
	"sphere":     Sphere,
	"rosenbrock": Rosenbrock,
	"rastrigin":  Rastrigin,
	"ellipsoid":  Ellipsoid,
	"ackley":     Ackley,
}

// Names lists the known problem names.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the named problem in n dimensions.
func Lookup(name string, n int) (Problem, error) {
	ctor, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	if n <= 0 {
		return nil, fmt.Errorf("problem %s: dimensions must be positive, got %d", name, n)
	}
	return ctor(n), nil
}

func sphere(x []float64) float64 {
	return floats.Dot(x, x)
}

func rosenbrock(x []float64) float64 {
	var sum float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

func rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

func ellipsoid(x []float64) float64 {
	n := len(x)
	var sum float64
	for i, v := range x {
		exp := 0.0
		if n > 1 {
			exp = 6 * float64(i) / float64(n-1)
		}
		sum += math.Pow(10, exp) * v * v
	}
	return sum
}

func ackley(x []float64) float64 {
	n := float64(len(x))
	sq := floats.Dot(x, x)
	var cs float64
	for _, v := range x {
		cs += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
