package assembler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/intent"
	"github.com/suPer8Hu/chat-orchestrator/internal/knowledge"
	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
)

const DefaultThreshold = 0.25

const (
	LabelProduct = "PRODUCT_DATA"
	LabelCompany = "COMPANY_DATA"
	LabelSupport = "SUPPORT_DATA"
)

// Capability is what an intent contributes to the bundle. Retrieval is false
// for intents that need no knowledge lookup.
type Capability struct {
	Domain    string
	Label     string
	Retrieval bool
}

func CapabilityOf(i intent.Intent) Capability {
	switch i {
	case intent.Product:
		return Capability{Domain: "product", Label: LabelProduct, Retrieval: true}
	case intent.Company:
		return Capability{Domain: "company", Label: LabelCompany, Retrieval: true}
	case intent.Support:
		return Capability{Domain: "support", Label: LabelSupport, Retrieval: true}
	case intent.General:
		return Capability{}
	default:
		panic(fmt.Sprintf("assembler: no capability for %s", i))
	}
}

// DomainResult reports the outcome of one domain lookup.
type DomainResult struct {
	Domain   string
	Records  int
	Err      error
	Duration time.Duration
}

type Assembler struct {
	retriever knowledge.Retriever
	threshold float64
	timeout   time.Duration
	log       zerolog.Logger

	// OnDomain, when set, is called once per domain lookup.
	OnDomain func(DomainResult)
}

func New(r knowledge.Retriever, threshold float64, timeout time.Duration) *Assembler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Assembler{
		retriever: r,
		threshold: threshold,
		timeout:   timeout,
		log:       logx.Component("assembler"),
	}
}

func (a *Assembler) Threshold() float64 { return a.threshold }

// Assemble queries every retrieval domain of set concurrently. A failed domain
// is left out; if every attempted domain fails the error wraps
// contract.ErrContextUnavailable and the returned bundle is empty.
func (a *Assembler) Assemble(ctx context.Context, set intent.Set, embedding []float32) (Bundle, error) {
	var caps []Capability
	for _, i := range set.Intents() {
		if c := CapabilityOf(i); c.Retrieval {
			caps = append(caps, c)
		}
	}
	if len(caps) == 0 {
		return Bundle{}, nil
	}

	type result struct {
		records []knowledge.Record
		err     error
	}
	results := make([]result, len(caps))

	var wg sync.WaitGroup
	for idx, c := range caps {
		wg.Add(1)
		go func(idx int, c Capability) {
			defer wg.Done()
			dctx := ctx
			if a.timeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(ctx, a.timeout)
				defer cancel()
			}
			start := time.Now()
			recs, err := a.retriever.Search(dctx, c.Domain, embedding, a.threshold)
			results[idx] = result{records: recs, err: err}
			if a.OnDomain != nil {
				a.OnDomain(DomainResult{Domain: c.Domain, Records: len(recs), Err: err, Duration: time.Since(start)})
			}
		}(idx, c)
	}
	wg.Wait()

	var b Bundle
	failed := 0
	for idx, c := range caps {
		res := results[idx]
		if res.err != nil {
			failed++
			a.log.Warn().Err(res.err).Str("domain", c.Domain).Msg("domain retrieval failed, section omitted")
			continue
		}
		if items := formatRecords(res.records, a.threshold); len(items) > 0 {
			b.Sections = append(b.Sections, Section{Label: c.Label, Items: items})
		}
	}
	if failed == len(caps) {
		return Bundle{}, fmt.Errorf("%w: all %d domains failed", contract.ErrContextUnavailable, failed)
	}
	return b, nil
}

// formatRecords numbers records in score order and keeps full content.
func formatRecords(recs []knowledge.Record, threshold float64) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if r.Score < threshold || r.Content == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%d. %s", len(out)+1, r.Content))
	}
	return out
}
