// Package atom implements the atomic-fact-extraction and graph-construction
// library the build pipeline calls through C3 (spec.md lists it as an external
// collaborator, "given a list of facts and an optional prior graph, returns a new
// graph"). This is a from-scratch implementation grounded on spec.md's matching
// rule table (ent_threshold/rel_threshold/entity_name_weight/entity_label_weight,
// require_same_entity_label, label allowlist/alias/unknown handling) since no
// reference source for the vendor library itself was available in the retrieval
// pack.
package atom

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"kgraphsvc.evalgo.org/kgstore"
)

// Extractor is the subset of llm.Client the builder needs: structured JSON
// extraction and embeddings, both already rate-limited and retried by C1/C2.
type Extractor interface {
	ExtractJSON(ctx context.Context, systemPrompt string, prompts []string) ([]string, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Options carries the matching-rule knobs from the component design table
// (config.AtomConfig plus the derived output-language/entity-name-mode fields the
// build service resolves before calling BuildGraph).
type Options struct {
	EntThreshold                  float64
	RelThreshold                  float64
	EntityNameWeight              float64
	EntityLabelWeight             float64
	OutputLanguage                string
	RequireSameEntityLabel        bool
	RenameRelationshipByEmbedding bool
	EntityLabelAllowlist          []string
	EntityLabelAliases            map[string]string
	UnknownEntityLabel            string
	DropUnknownEntityLabel        bool
	RelationFallbackName          string
}

// Builder constructs knowledge graphs from atomic facts.
type Builder struct {
	extractor Extractor
}

// NewBuilder wraps an Extractor (normally an *llm.Client) in a Builder.
func NewBuilder(extractor Extractor) *Builder {
	return &Builder{extractor: extractor}
}

// Extractor exposes the builder's underlying Extractor so the build pipeline can
// reuse the same rate-limited, retrying client for the atomic-fact extraction step
// that precedes graph construction.
func (b *Builder) Extractor() Extractor {
	return b.extractor
}

type extractedTriple struct {
	SourceName  string `json:"source_name"`
	SourceLabel string `json:"source_label"`
	TargetName  string `json:"target_name"`
	TargetLabel string `json:"target_label"`
	Predicate   string `json:"predicate"`
}

type extractionResult struct {
	Triples []extractedTriple `json:"triples"`
}

const extractionSystemPromptTemplate = `You are an atomic-fact triple extractor. Given a single atomic fact (a sentence
paired with an observation date), extract every (source entity, predicate, target
entity) triple it states. Respond as JSON: {"triples": [{"source_name": "...",
"source_label": "...", "target_name": "...", "target_label": "...", "predicate":
"..."}]}. Entity names and labels must be copied verbatim from the source text, not
translated or paraphrased. Output language: %s. If the fact states no relationship
between two named entities, return an empty "triples" array.`

// entityKey is the in-memory dedup key: (label, name) as spec.md §8's cyclic
// reference note requires ("Store an index (label, name) -> entity and rewire
// relationships on merge").
type entityKey struct{ label, name string }

type workingEntity struct {
	label     string
	name      string
	embedding []float64
}

type workingRelationship struct {
	startKey    entityKey
	endKey      entityKey
	predicate   string
	atomicFacts []string
	tObs        []string
	embedding   []float64
}

// BuildGraph extracts triples from facts (each already framed with obsTimestamp by
// the caller) and merges them into prior (nil for a full build), returning a new
// graph. prior is never mutated.
func (b *Builder) BuildGraph(ctx context.Context, facts []string, obsTimestamp string, prior *kgstore.Graph, opts Options) (kgstore.Graph, error) {
	if len(facts) == 0 {
		return kgstore.Graph{}, fmt.Errorf("build graph: no atomic facts supplied")
	}

	systemPrompt := fmt.Sprintf(extractionSystemPromptTemplate, languageOrDefault(opts.OutputLanguage))
	raw, err := b.extractor.ExtractJSON(ctx, systemPrompt, facts)
	if err != nil {
		return kgstore.Graph{}, fmt.Errorf("extract triples: %w", err)
	}

	entities := make(map[entityKey]*workingEntity)
	relationships := make(map[string]*workingRelationship)
	knownPredicates := make(map[string][]float64)

	if prior != nil {
		for _, e := range prior.Entities {
			key := entityKey{label: e.Label, name: e.Name}
			entities[key] = &workingEntity{label: e.Label, name: e.Name, embedding: e.Embeddings}
		}
		for _, r := range prior.Relationships {
			startKey := entityKey{label: r.StartLabel, name: r.StartName}
			endKey := entityKey{label: r.EndLabel, name: r.EndName}
			relKey := relationshipKey(startKey, endKey, r.Predicate)
			relationships[relKey] = &workingRelationship{
				startKey:    startKey,
				endKey:      endKey,
				predicate:   r.Predicate,
				atomicFacts: append([]string(nil), r.AtomicFacts...),
				tObs:        append([]string(nil), r.TObs...),
				embedding:   r.Embeddings,
			}
			if _, seen := knownPredicates[r.Predicate]; !seen {
				knownPredicates[r.Predicate] = r.Embeddings
			}
		}
	}

	for i, factOutput := range raw {
		var result extractionResult
		if strings.TrimSpace(factOutput) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(factOutput), &result); err != nil {
			return kgstore.Graph{}, fmt.Errorf("parse extraction for fact %d: %w", i, err)
		}
		fact := facts[i]

		for _, triple := range result.Triples {
			sourceKey, err := b.resolveEntity(ctx, entities, triple.SourceName, triple.SourceLabel, opts)
			if err != nil {
				return kgstore.Graph{}, err
			}
			targetKey, err := b.resolveEntity(ctx, entities, triple.TargetName, triple.TargetLabel, opts)
			if err != nil {
				return kgstore.Graph{}, err
			}
			if sourceKey == nil || targetKey == nil {
				continue
			}

			predicate, err := b.resolveRelationName(ctx, knownPredicates, triple.Predicate, opts)
			if err != nil {
				return kgstore.Graph{}, err
			}

			relKey := relationshipKey(*sourceKey, *targetKey, predicate)
			rel, ok := relationships[relKey]
			if !ok {
				rel = &workingRelationship{startKey: *sourceKey, endKey: *targetKey, predicate: predicate, embedding: knownPredicates[predicate]}
				relationships[relKey] = rel
			}
			rel.atomicFacts = append(rel.atomicFacts, fact)
			rel.tObs = append(rel.tObs, obsTimestamp)
		}
	}

	if opts.DropUnknownEntityLabel {
		for key := range relationships {
			rel := relationships[key]
			if entities[rel.startKey] == nil || entities[rel.endKey] == nil {
				delete(relationships, key)
				continue
			}
			if entities[rel.startKey].label == opts.UnknownEntityLabel || entities[rel.endKey].label == opts.UnknownEntityLabel {
				delete(relationships, key)
			}
		}
	}

	return assembleGraph(entities, relationships), nil
}

func languageOrDefault(lang string) string {
	if lang == "" {
		return "zh"
	}
	return lang
}

func relationshipKey(start, end entityKey, predicate string) string {
	return fmt.Sprintf("%s:%s|%s|%s:%s", start.label, start.name, predicate, end.label, end.name)
}

// resolveEntity applies the label allowlist/alias/unknown rules, then either
// matches an existing entity by threshold-weighted similarity or inserts a new
// one, returning the entity's canonical key.
func (b *Builder) resolveEntity(ctx context.Context, entities map[entityKey]*workingEntity, name, label string, opts Options) (*entityKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	label = canonicalizeLabel(label, opts)

	embeds, err := b.extractor.Embed(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("embed entity name %q: %w", name, err)
	}
	var embedding []float64
	if len(embeds) > 0 {
		embedding = embeds[0]
	}

	var bestKey *entityKey
	bestScore := -1.0
	for key, existing := range entities {
		if opts.RequireSameEntityLabel && existing.label != label {
			continue
		}
		nameScore := cosineSimilarity(embedding, existing.embedding)
		labelScore := 0.0
		if existing.label == label {
			labelScore = 1.0
		}
		score := opts.EntityNameWeight*nameScore + opts.EntityLabelWeight*labelScore
		if score >= opts.EntThreshold && score > bestScore {
			bestScore = score
			k := key
			bestKey = &k
		}
	}

	if bestKey != nil {
		return bestKey, nil
	}

	key := entityKey{label: label, name: name}
	entities[key] = &workingEntity{label: label, name: name, embedding: embedding}
	return &key, nil
}

func canonicalizeLabel(label string, opts Options) string {
	label = strings.TrimSpace(label)
	if alias, ok := opts.EntityLabelAliases[label]; ok {
		label = alias
	}
	if label == "" {
		return opts.UnknownEntityLabel
	}
	if len(opts.EntityLabelAllowlist) > 0 && !contains(opts.EntityLabelAllowlist, label) {
		return opts.UnknownEntityLabel
	}
	return label
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// resolveRelationName applies the empty-predicate fallback, then, when
// opts.RenameRelationshipByEmbedding is set, merges the predicate into the
// closest known predicate by cosine similarity (mirroring resolveEntity's
// threshold scan, but against a single rel_threshold rather than a
// name/label-weighted score, since predicates have no label analog). known
// is both read and updated in place: a predicate that doesn't match anything
// above opts.RelThreshold becomes a new cluster representative for later
// calls in the same build. With RenameRelationshipByEmbedding unset,
// predicates pass through unchanged (source mode), and known is only used to
// record their embeddings for callers that read it back (e.g. to seed a new
// workingRelationship's embedding field).
func (b *Builder) resolveRelationName(ctx context.Context, known map[string][]float64, predicate string, opts Options) (string, error) {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		predicate = opts.RelationFallbackName
		if predicate == "" {
			predicate = "related_to"
		}
	}

	embeds, err := b.extractor.Embed(ctx, []string{predicate})
	if err != nil {
		return "", fmt.Errorf("embed predicate %q: %w", predicate, err)
	}
	var embedding []float64
	if len(embeds) > 0 {
		embedding = embeds[0]
	}

	if !opts.RenameRelationshipByEmbedding {
		if _, seen := known[predicate]; !seen {
			known[predicate] = embedding
		}
		return predicate, nil
	}

	best := ""
	bestScore := -1.0
	for name, existing := range known {
		score := cosineSimilarity(embedding, existing)
		if score >= opts.RelThreshold && score > bestScore {
			bestScore = score
			best = name
		}
	}
	if best != "" {
		return best, nil
	}

	known[predicate] = embedding
	return predicate, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func assembleGraph(entities map[entityKey]*workingEntity, relationships map[string]*workingRelationship) kgstore.Graph {
	graph := kgstore.Graph{
		Entities:      make([]kgstore.Entity, 0, len(entities)),
		Relationships: make([]kgstore.Relationship, 0, len(relationships)),
	}
	for _, e := range entities {
		graph.Entities = append(graph.Entities, kgstore.Entity{Label: e.label, Name: e.name, Embeddings: e.embedding})
	}
	for _, r := range relationships {
		graph.Relationships = append(graph.Relationships, kgstore.Relationship{
			StartLabel:  r.startKey.label,
			StartName:   r.startKey.name,
			EndLabel:    r.endKey.label,
			EndName:     r.endKey.name,
			Predicate:   r.predicate,
			AtomicFacts: r.atomicFacts,
			TObs:        r.tObs,
			Embeddings:  r.embedding,
		})
	}
	return graph
}
