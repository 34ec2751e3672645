package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	base36Alphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	randomSuffixSize = 6
)

// CodeChecker reports whether a code is already taken. The answer is advisory;
// the unique index on the code column is what actually guarantees uniqueness.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGeneratorConfig holds the retry schedule for code generation
type CodeGeneratorConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultCodeGeneratorConfig returns the default retry schedule
func DefaultCodeGeneratorConfig() CodeGeneratorConfig {
	return CodeGeneratorConfig{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// CodeGenerator produces transaction codes of the form PREFIX-TIME+RANDOM
type CodeGenerator struct {
	checker CodeChecker
	config  CodeGeneratorConfig
	now     func() time.Time
	random  io.Reader
}

// NewCodeGenerator creates a generator. checker may be nil, in which case
// only the insert-time constraint is relied upon.
func NewCodeGenerator(checker CodeChecker, config CodeGeneratorConfig) *CodeGenerator {
	def := DefaultCodeGeneratorConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = def.InitialInterval
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}
	return &CodeGenerator{
		checker: checker,
		config:  config,
		now:     time.Now,
		random:  rand.Reader,
	}
}

// Candidate builds one code from the current time and a random suffix
func (g *CodeGenerator) Candidate(prefix string) (string, error) {
	suffix, err := randomBase36(g.random, randomSuffixSize)
	if err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}
	stamp := strconv.FormatInt(g.now().UnixMilli(), 36)
	return strings.ToUpper(prefix + "-" + stamp + suffix), nil
}

// FallbackCode returns a code carrying a full random UUID. It is used once
// the regular schedule is exhausted.
func FallbackCode(prefix string) string {
	return strings.ToUpper(prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Generate returns a code that was not taken at the time of the lookup.
func (g *CodeGenerator) Generate(ctx context.Context, prefix string) (string, error) {
	var code string
	op := func() error {
		candidate, err := g.Candidate(prefix)
		if err != nil {
			return backoff.Permanent(err)
		}
		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return backoff.Permanent(err)
		}
		if taken {
			return ErrDuplicateCode
		}
		code = candidate
		return nil
	}

	err := backoff.Retry(op, g.schedule(ctx))
	switch {
	case err == nil:
		return code, nil
	case errors.Is(err, ErrDuplicateCode):
		return FallbackCode(prefix), nil
	default:
		return "", err
	}
}

// WithUniqueCode runs insert with generated codes until one is accepted.
// insert must return ErrDuplicateCode when the code unique index rejects the
// row; any other error aborts immediately. After the schedule is exhausted a
// fallback code is tried once, and its collision is ErrCodeSpaceExhausted.
func (g *CodeGenerator) WithUniqueCode(ctx context.Context, prefix string, insert func(ctx context.Context, code string) error) (string, error) {
	var code string
	op := func() error {
		candidate, err := g.Candidate(prefix)
		if err != nil {
			return backoff.Permanent(err)
		}
		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return backoff.Permanent(err)
		}
		if taken {
			return ErrDuplicateCode
		}
		if err := insert(ctx, candidate); err != nil {
			if errors.Is(err, ErrDuplicateCode) {
				return err
			}
			return backoff.Permanent(err)
		}
		code = candidate
		return nil
	}

	err := backoff.Retry(op, g.schedule(ctx))
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, ErrDuplicateCode) {
		return "", err
	}

	fallback := FallbackCode(prefix)
	if err := insert(ctx, fallback); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return "", ErrCodeSpaceExhausted
		}
		return "", err
	}
	return fallback, nil
}

func (g *CodeGenerator) exists(ctx context.Context, code string) (bool, error) {
	if g.checker == nil {
		return false, nil
	}
	return g.checker.CodeExists(ctx, code)
}

func (g *CodeGenerator) schedule(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.config.InitialInterval
	b.MaxInterval = g.config.MaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.config.MaxAttempts-1)), ctx)
}

func randomBase36(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 252 is the largest multiple of 36 below 256
			if b >= 252 {
				continue
			}
			out = append(out, base36Alphabet[int(b)%36])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
