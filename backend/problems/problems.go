// Package problems loads the problem catalogue and deals problems to
// rooms. The catalogue is a YAML file read once at startup; rooms draw
// from a shuffled deck that reshuffles a fresh copy of the catalogue
// whenever it runs out.
package problems

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNoProblem = errors.New("problem catalogue is empty")

// Problem is an immutable challenge record. Expected is the exact
// output (modulo trailing whitespace) a correct program must produce.
type Problem struct {
	Description string `yaml:"description"`
	StarterCode string `yaml:"starterCode"`
	Expected    string `yaml:"solution"`
}

type catalogueFile struct {
	Problems []Problem `yaml:"problems"`
}

// LoadFile reads the full catalogue from path. An unreadable or
// malformed file is an error; a readable file with zero problems is
// not, the server just never hands out a problem.
func LoadFile(path string) ([]Problem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read problem catalogue: %w", err)
	}
	return Load(b)
}

func Load(b []byte) ([]Problem, error) {
	var cf catalogueFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("unable to parse problem catalogue: %w", err)
	}
	return cf.Problems, nil
}

// Deck deals problems in shuffled order without repeats until the
// whole catalogue has been seen, then reshuffles and starts over.
// Safe for concurrent use.
type Deck struct {
	mx    sync.Mutex
	all   []Problem
	queue []Problem
	rnd   *rand.Rand
}

func NewDeck(all []Problem) *Deck {
	return NewDeckWithSeed(all, rand.Int63())
}

// NewDeckWithSeed fixes the shuffle order, used in tests.
func NewDeckWithSeed(all []Problem, seed int64) *Deck {
	d := &Deck{
		all: all,
		rnd: rand.New(rand.NewSource(seed)),
	}
	d.refill()
	return d
}

func (d *Deck) refill() {
	d.queue = make([]Problem, len(d.all))
	copy(d.queue, d.all)
	d.rnd.Shuffle(len(d.queue), func(i, j int) {
		d.queue[i], d.queue[j] = d.queue[j], d.queue[i]
	})
}

// Draw pops the next problem, reshuffling a fresh copy of the
// catalogue if the queue is exhausted.
func (d *Deck) Draw() (Problem, error) {
	d.mx.Lock()
	defer d.mx.Unlock()

	if len(d.all) == 0 {
		return Problem{}, ErrNoProblem
	}
	if len(d.queue) == 0 {
		d.refill()
	}
	p := d.queue[0]
	d.queue = d.queue[1:]
	return p, nil
}

// Size reports the catalogue size.
func (d *Deck) Size() int {
	return len(d.all)
}
