package fusion

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func TestRoutingWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights RoutingWeights
		wantErr bool
	}{
		{"valid", RoutingWeights{SourceVector: 1, SourceLexical: 0.5}, false},
		{"zero excluded", RoutingWeights{SourceVector: 1, SourceGraphGlobal: 0}, false},
		{"weights above one", RoutingWeights{SourceVector: 3}, false},
		{"negative", RoutingWeights{SourceVector: -0.1}, true},
		{"nan", RoutingWeights{SourceVector: math.NaN()}, true},
		{"inf", RoutingWeights{SourceVector: math.Inf(1)}, true},
		{"all zero", RoutingWeights{SourceVector: 0, SourceLexical: 0}, true},
		{"nil", nil, true},
		{"unknown", RoutingWeights{"web": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, amerrors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRoutingWeights_ActiveCanonicalOrder(t *testing.T) {
	w := RoutingWeights{SourceGraphGlobal: 1, SourceVector: 0.2, SourceLexical: 0}

	assert.Equal(t, []SourceName{SourceVector, SourceGraphGlobal}, w.Active())
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, NewQuery("who maintains the billing service").Validate())
	assert.ErrorIs(t, NewQuery("").Validate(), amerrors.ErrInvalidInput)
	assert.ErrorIs(t, NewQuery(" \t").Validate(), amerrors.ErrInvalidInput)
	assert.ErrorIs(t, NewQuery(strings.Repeat("a", MaxQueryLength+1)).Validate(), amerrors.ErrInvalidInput)
	assert.ErrorIs(t, NewQuery("bad \xff utf8").Validate(), amerrors.ErrInvalidInput)
}

func TestQuery_Texts(t *testing.T) {
	q := NewQuery("billing owner", "billing", "", "billing owner", " owner ")

	assert.Equal(t, []string{"billing owner", "billing", "owner"}, q.Texts())
}

func TestQuery_Immutable(t *testing.T) {
	subs := []string{"a", "b"}
	q := NewQuery("text", subs...)
	subs[0] = "changed"

	assert.Equal(t, "a", q.SubQueries[0])

	d := time.Now().Add(time.Second)
	q2 := q.WithDeadline(d)
	q2.SubQueries[1] = "changed"
	assert.Equal(t, "b", q.SubQueries[1])
	assert.True(t, q.Deadline.IsZero())
	assert.Equal(t, d, q2.Deadline)
}

func TestParseSourceName(t *testing.T) {
	s, err := ParseSourceName(" Graph_Local ")
	require.NoError(t, err)
	assert.Equal(t, SourceGraphLocal, s)

	_, err = ParseSourceName("web")
	assert.ErrorIs(t, err, amerrors.ErrInvalidInput)
}

func TestFuseOptions_Validate(t *testing.T) {
	assert.NoError(t, FuseOptions{}.Validate())
	assert.Error(t, FuseOptions{TopN: -1}.Validate())
	assert.Error(t, FuseOptions{CandidateK: -1}.Validate())
	assert.Error(t, FuseOptions{SourceTimeouts: map[SourceName]time.Duration{"web": time.Second}}.Validate())
	assert.Error(t, FuseOptions{SourceTimeouts: map[SourceName]time.Duration{SourceVector: -time.Second}}.Validate())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{TopN: 10}.withDefaults()

	assert.Equal(t, 10, cfg.TopN)
	assert.Equal(t, DefaultRRFConstant, cfg.RRFConstant)
	assert.Equal(t, 300*time.Millisecond, cfg.SourceTimeout)
	assert.Equal(t, 800*time.Millisecond, cfg.GlobalDeadline)
	assert.Equal(t, 150*time.Millisecond, cfg.RerankBudget)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := &fakeAdapter{}

	require.NoError(t, reg.Register(SourceLexical, a))
	require.NoError(t, reg.Register(SourceVector, a))
	assert.Error(t, reg.Register(SourceVector, a), "duplicate")
	assert.ErrorIs(t, reg.Register(SourceGraphLocal, nil), ErrNilAdapter)
	assert.Error(t, reg.Register("web", a))

	assert.Equal(t, []SourceName{SourceVector, SourceLexical}, reg.Names())
	assert.Equal(t, 2, reg.Len())
	got, ok := reg.Lookup(SourceLexical)
	assert.True(t, ok)
	assert.Same(t, a, got)

	assert.Panics(t, func() { reg.MustRegister(SourceVector, a) })
}

func TestEngine_RegistryCopied(t *testing.T) {
	reg := NewRegistry().MustRegister(SourceVector, &fakeAdapter{})
	e, err := NewEngine(reg)
	require.NoError(t, err)

	reg.MustRegister(SourceLexical, &fakeAdapter{})

	assert.Equal(t, []SourceName{SourceVector}, e.Sources())
}
