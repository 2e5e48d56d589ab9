package pipeline

// Wave is a group of passes with no dependency edges between them,
// in registration order.
type Wave []string

// ComputeWaves validates the registry and groups passes into waves.
//
// A pass with no dependencies is in wave 0; any other pass is in wave
// 1 + the highest wave of its dependencies. Each pass therefore lands in
// the earliest wave its dependencies allow, and every dependency sits in
// a strictly earlier wave.
//
// For example, with A; B->A; C->A; D->B,C the waves are [[A] [B C] [D]].
func ComputeWaves(reg *Registry) ([]Wave, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	index := waveIndex(reg)
	depth := 0
	for _, w := range index {
		depth = max(depth, w+1)
	}

	waves := make([]Wave, depth)
	for _, name := range reg.Names() {
		w := index[name]
		waves[w] = append(waves[w], name)
	}
	return waves, nil
}

// WaveIndex returns the wave of every pass. The registry must be valid.
func WaveIndex(reg *Registry) (map[string]int, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return waveIndex(reg), nil
}

func waveIndex(reg *Registry) map[string]int {
	index := make(map[string]int, reg.Len())

	var label func(name string) int
	label = func(name string) int {
		if w, done := index[name]; done {
			return w
		}
		p, _ := reg.Get(name)
		w := 0
		for _, dep := range p.Dependencies() {
			w = max(w, label(dep)+1)
		}
		index[name] = w
		return w
	}

	for _, name := range reg.Names() {
		label(name)
	}
	return index
}

// Flatten returns the passes of all waves in execution order: wave by
// wave, registration order within a wave.
func Flatten(waves []Wave) []string {
	var out []string
	for _, w := range waves {
		out = append(out, w...)
	}
	return out
}
