package model

// Tokens is an additive token counter. Cached is a subset of Input.
type Tokens struct {
	Input  int64
	Output int64
	Cached int64
}

// Total returns input plus output. Cached tokens are already part of Input.
func (t Tokens) Total() int64 {
	return t.Input + t.Output
}

// Uncached returns the input tokens that were not served from cache,
// clamped at zero for inconsistent data.
func (t Tokens) Uncached() int64 {
	if t.Cached > t.Input {
		return 0
	}
	return t.Input - t.Cached
}

// Add accumulates another counter into t
func (t *Tokens) Add(o Tokens) {
	t.Input += o.Input
	t.Output += o.Output
	t.Cached += o.Cached
}

// IsZero reports whether all three fields are zero.
func (t Tokens) IsZero() bool {
	return t.Input == 0 && t.Output == 0 && t.Cached == 0
}

// ModelPricing is priced in USD per 1M tokens.
type ModelPricing struct {
	Input       float64
	Output      float64
	InputCached float64
}

// Cost is a monetary amount split into the parts a bar is drawn from.
type Cost struct {
	Input  float64 // uncached input
	Cached float64
	Output float64
}

// Total returns the sum of all components
func (c Cost) Total() float64 {
	return c.Input + c.Cached + c.Output
}

// Add accumulates another cost into c.
func (c *Cost) Add(o Cost) {
	c.Input += o.Input
	c.Cached += o.Cached
	c.Output += o.Output
}
