// Package shapes is a fixture for the surface tests.
package shapes

import (
	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

type Counter struct {
	object.Base
	Count  int
	Label  string `garnet:"caption,readonly"`
	Secret string `garnet:"-"`
	Events chan int
	Tags   map[string][]float64
}

func (c *Counter) MetaClass() *meta.Class { return nil }

func (c *Counter) Increment() int { c.Count++; return c.Count }

func (c *Counter) Add(n int) int { c.Count += n; return c.Count }

func (c *Counter) Add_Pair(a, b int) int { return c.Add(a + b) }

func (c *Counter) Sum(xs ...int) int {
	for _, x := range xs {
		c.Count += x
	}
	return c.Count
}

func (c *Counter) Collect(first string, rest meta.VariadicArgument) variant.Value {
	return variant.String(first)
}

func (c *Counter) Attach(other *Counter) error { return nil }

func (c *Counter) Watch(ch chan int) {}

func (c *Counter) Split() (int, int) { return c.Count, 0 }

type Plain struct {
	Name string
}

func (p *Plain) Hello() string { return "hi " + p.Name }
