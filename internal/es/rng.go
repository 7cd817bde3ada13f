package es

import "math/rand/v2"

// Key is a splittable random key. Every random draw in this package is
// derived from a Key passed in by the caller, so the same key sequence
// reproduces the same populations and state trajectories.
type Key uint64

// NewKey derives a key from an integer seed.
func NewKey(seed int64) Key {
	return Key(splitmix(uint64(seed)))
}

// Split derives n independent child keys. The parent should not be reused
// for sampling afterwards.
func (k Key) Split(n int) []Key {
	keys := make([]Key, n)
	state := uint64(k)
	for i := range keys {
		state += golden
		keys[i] = Key(splitmix(state))
	}
	return keys
}

// Split2 is shorthand for Split(2).
func (k Key) Split2() (Key, Key) {
	keys := k.Split(2)
	return keys[0], keys[1]
}

// Rand returns a generator whose stream is fully determined by k.
func (k Key) Rand() *rand.Rand {
	return rand.New(rand.NewPCG(uint64(k), splitmix(uint64(k)^golden)))
}

const golden = 0x9e3779b97f4a7c15

func splitmix(x uint64) uint64 {
	x += golden
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// normals fills an rows×cols matrix with standard normal draws, row by row.
func normals(r *rand.Rand, rows, cols int) [][]float64 {
	z := make([][]float64, rows)
	for i := range z {
		z[i] = make([]float64, cols)
		for j := range z[i] {
			z[i][j] = r.NormFloat64()
		}
	}
	return z
}

func uniformVector(r *rand.Rand, n int, lo, hi float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = lo + (hi-lo)*r.Float64()
	}
	return v
}
