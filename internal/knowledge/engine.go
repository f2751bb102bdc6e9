// Package knowledge is the learning store behind the exploration core: a
// Mangle deductive database holding observed facts (screen visits, action
// attempts, signed feedback) plus the scoring oracle the queue builder and
// arbiter consume.
package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"screenscout/internal/config"
)

// Fact is a normalized event emitted by the exploration core.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// Engine wraps the Mangle deductive database with exploration-specific fact
// management: a bounded temporal buffer with a predicate index, and a rule
// store for derived predicates such as likely dead ends.
type Engine struct {
	cfg config.KnowledgeConfig
	log *zap.Logger

	mu           sync.RWMutex
	schemaLoaded bool
	programInfo  *analysis.ProgramInfo
	store        factstore.FactStore

	facts []Fact
	index map[string][]int
}

func NewEngine(cfg config.KnowledgeConfig, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:   cfg,
		log:   log.With(zap.String("component", "knowledge")),
		store: factstore.NewSimpleInMemoryStore(),
		facts: make([]Fact, 0, cfg.FactBufferLimit),
		index: make(map[string][]int),
	}

	if cfg.Enable && cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadSchema parses and analyzes a Mangle schema file and prepares the
// engine for rule evaluation.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	sourceUnit, err := parse.Unit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programInfo = programInfo
	e.schemaLoaded = true
	return nil
}

// AddRule dynamically adds a Mangle rule for runtime assertions.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(ruleSource)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existingDecls := make(map[ast.PredicateSym]ast.Decl)
	if e.programInfo != nil && e.programInfo.Decls != nil {
		for k, v := range e.programInfo.Decls {
			if v != nil {
				existingDecls[k] = *v
			}
		}
	}

	newProgramInfo, err := analysis.AnalyzeOneUnit(sourceUnit, existingDecls)
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	if e.programInfo == nil {
		e.programInfo = newProgramInfo
	} else {
		for k, v := range newProgramInfo.Decls {
			e.programInfo.Decls[k] = v
		}
	}
	e.schemaLoaded = true
	return nil
}

// AddFacts appends facts to the temporal buffer and the Mangle store, then
// re-evaluates rules when a schema is loaded.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trim := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = append([]Fact(nil), e.facts[trim:]...)
		e.rebuildIndex()
	} else {
		base := len(e.facts) - len(facts)
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
		}
	}

	for _, f := range facts {
		atom, err := factToAtom(f)
		if err != nil {
			continue // malformed facts degrade silently
		}
		e.store.Add(atom)
	}

	if e.schemaLoaded && e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}
	return nil
}

// FactsByPredicate returns matching facts using the index.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices, ok := e.index[predicate]
	if !ok {
		return nil
	}
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			results = append(results, e.facts[idx])
		}
	}
	return results
}

// QueryTemporal returns facts for a predicate within a time window.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var results []Fact
	for _, idx := range e.index[predicate] {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// Derived evaluates the loaded program and returns facts derived for a
// predicate, e.g. rule-inferred dead ends.
func (e *Engine) Derived(ctx context.Context, predicate string) ([]Fact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}

	var queryAtom ast.Atom
	predSym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := 0; i < arity; i++ {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom = ast.Atom{Predicate: predSym, Args: args}
	} else {
		queryAtom = ast.Atom{Predicate: predSym}
	}

	var facts []Fact
	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// FactCount returns the number of buffered facts.
func (e *Engine) FactCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.facts)
}

// Ready reports whether the engine has a usable query context.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) (ast.Atom, error) {
	predSym := ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: predSym, Args: args}, nil
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	if c == nil {
		return nil
	}
	switch term := c.(type) {
	case ast.Constant:
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			return term.NumberValue
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}
