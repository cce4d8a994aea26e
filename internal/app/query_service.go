package app

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"deckqa/internal/ai"
	"deckqa/internal/model"
	"deckqa/internal/pkg/textutil"
	"deckqa/internal/retrieval"
	"deckqa/internal/store"
)

const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

const (
	TierGenerative = "generative"
	TierRemote     = "remote"
	TierLexical    = "lexical"
	TierDump       = "dump"
	TierNone       = "none"
)

const (
	msgDocumentNotFound = "Document not found. Please make sure the document was uploaded successfully."
	msgNoDocuments      = "No documents specified for search."
	msgNoneFound        = "None of the specified documents were found."
	msgNoQuestion       = "Please provide a question."
)

const (
	contextMaxChunks  = 5
	contextMinChunks  = 3
	snippetChars      = 300
	multiSnippetChars = 150
	multiSnippetCount = 3
	generatedSource   = "AI Generated"
)

// ChunkStore is the read side of the chunk store used to answer questions.
type ChunkStore interface {
	Get(documentID string) []model.Chunk
	Search(documentID, question string, topK int) []model.Chunk
}

type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage, s ai.Sampling) (*ai.ChatCompletion, error)
}

type Retriever interface {
	Query(ctx context.Context, req retrieval.QueryRequest) (*retrieval.QueryResponse, error)
}

// ConversationCache keeps the most recent turns per document key.
type ConversationCache interface {
	Recent(ctx context.Context, key string, limit int) ([]model.QATurn, error)
	Append(ctx context.Context, key string, turn model.QATurn) error
}

type TurnPublisher interface {
	PublishTurn(ctx context.Context, turn model.QATurn) error
}

type QueryConfig struct {
	TopK                int
	MinAnswerChars      int
	SimilarityThreshold float64
	HistoryTurns        int
}

type QueryInput struct {
	DocumentID string
	Question   string
	TopK       int
	Persona    string
}

type MultiQueryInput struct {
	DocumentIDs []string
	Question    string
	TopK        int
	Persona     string
}

type QueryResult struct {
	Status    string           `json:"status"`
	Answers   []string         `json:"answers"`
	Citations []model.Citation `json:"citations"`
	Tier      string           `json:"tier"`
}

// QueryService answers questions through four tiers: generative, remote
// retrieval, local lexical search, and a raw content dump. Each tier is
// tried only when the previous one failed or returned nothing.
type QueryService struct {
	store         ChunkStore
	generator     Generator
	retriever     Retriever
	history       AnswerHistory
	conversations ConversationCache
	turns         TurnPublisher
	cfg           QueryConfig
	now           func() time.Time
}

// NewQueryService wires the orchestrator. generator, retriever,
// conversations and turns may be nil; the matching feature is skipped.
func NewQueryService(
	chunkStore ChunkStore,
	generator Generator,
	retriever Retriever,
	history AnswerHistory,
	conversations ConversationCache,
	turns TurnPublisher,
	cfg QueryConfig,
) *QueryService {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinAnswerChars <= 0 {
		cfg.MinAnswerChars = 10
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.8
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	if history == nil {
		history = NewMemoryAnswerHistory(0)
	}
	return &QueryService{
		store:         chunkStore,
		generator:     generator,
		retriever:     retriever,
		history:       history,
		conversations: conversations,
		turns:         turns,
		cfg:           cfg,
		now:           time.Now,
	}
}

func (s *QueryService) Query(ctx context.Context, input QueryInput) *QueryResult {
	question := strings.TrimSpace(input.Question)
	docID := strings.TrimSpace(input.DocumentID)
	if question == "" || docID == "" {
		return failed(msgNoQuestion)
	}
	topK := s.topK(input.TopK)
	ctx = context.WithoutCancel(ctx)

	chunks := s.store.Get(docID)
	if len(chunks) == 0 {
		log.Printf("query document not found: doc_id=%s", docID)
		return notFound(msgDocumentNotFound)
	}

	result := s.querySingle(ctx, docID, question, input.Persona, topK, chunks)
	s.record(ctx, docID, question, input.Persona, result)
	return result
}

func (s *QueryService) querySingle(ctx context.Context, docID, question, persona string, topK int, chunks []model.Chunk) *QueryResult {
	if answer, ok := s.generate(ctx, docID, question, persona, chunks, false); ok {
		return answered(TierGenerative, answer, model.Citation{Title: "Document Analysis", Source: generatedSource})
	}

	if res, ok := s.remote(ctx, retrieval.QueryRequest{DocumentID: docID, Question: question, TopK: topK}); ok {
		return res
	}

	if hits := s.store.Search(docID, question, topK); len(hits) > 0 {
		best := hits[0]
		return answered(TierLexical,
			"Based on the document content: "+snippet(best.Text, snippetChars),
			model.Citation{DocumentID: docID, Ordinal: best.Ordinal, Title: titleOr(best.Title, "Document")},
		)
	}
	log.Printf("tier lexical found no matches: doc_id=%s", docID)

	first := chunks[0]
	return answered(TierDump,
		fmt.Sprintf("I couldn't find specific information about '%s', but here's some content from the document: %s",
			question, snippet(first.Text, snippetChars)),
		model.Citation{DocumentID: docID, Ordinal: first.Ordinal, Title: titleOr(first.Title, "Document")},
	)
}

// QueryMulti answers over the union of several documents. Ids with no
// chunks are skipped; the query fails only when none remain.
func (s *QueryService) QueryMulti(ctx context.Context, input MultiQueryInput) *QueryResult {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return failed(msgNoQuestion)
	}
	ids := uniqueIDs(input.DocumentIDs)
	if len(ids) == 0 {
		return failed(msgNoDocuments)
	}
	topK := s.topK(input.TopK)
	ctx = context.WithoutCancel(ctx)

	var (
		found []string
		union []model.Chunk
	)
	for _, id := range ids {
		chunks := s.store.Get(id)
		if len(chunks) == 0 {
			log.Printf("multi query skipping unknown document: doc_id=%s", id)
			continue
		}
		found = append(found, id)
		for _, c := range chunks {
			if c.DocumentID == "" {
				c.DocumentID = id
			}
			union = append(union, c)
		}
	}
	if len(found) == 0 {
		return notFound(msgNoneFound)
	}

	key := strings.Join(sortedCopy(found), ",")
	result := s.queryMulti(ctx, key, found, question, input.Persona, topK, union)
	s.record(ctx, key, question, input.Persona, result)
	return result
}

func (s *QueryService) queryMulti(ctx context.Context, key string, ids []string, question, persona string, topK int, union []model.Chunk) *QueryResult {
	n := len(ids)

	if answer, ok := s.generate(ctx, key, question, persona, union, true); ok {
		return answered(TierGenerative, answer, model.Citation{
			Title:  fmt.Sprintf("Analysis across %d documents", n),
			Source: generatedSource,
		})
	}

	if res, ok := s.remote(ctx, retrieval.QueryRequest{DocumentID: ids[0], DocumentIDs: ids, Question: question, TopK: topK}); ok {
		return res
	}

	if ranked := store.Rank(union, question, multiSnippetCount); len(ranked) > 0 {
		parts := make([]string, 0, len(ranked))
		citations := make([]model.Citation, 0, len(ranked))
		for _, r := range ranked {
			parts = append(parts, snippet(r.Chunk.Text, multiSnippetChars))
			citations = append(citations, model.Citation{
				DocumentID: r.Chunk.DocumentID,
				Ordinal:    r.Chunk.Ordinal,
				Title:      titleOr(r.Chunk.Title, "Document"),
				Source:     r.Chunk.SourceName,
				Score:      r.Score,
			})
		}
		return &QueryResult{
			Status:    StatusOK,
			Answers:   []string{fmt.Sprintf("Based on your %d documents: %s", n, strings.Join(parts, " | "))},
			Citations: citations,
			Tier:      TierLexical,
		}
	}
	log.Printf("tier lexical found no matches across %d documents", n)

	return answered(TierDump,
		fmt.Sprintf("I searched across %d documents but couldn't find specific matches for '%s'. Here's some general content: %s",
			n, question, snippet(union[0].Text, snippetChars)),
		model.Citation{Title: fmt.Sprintf("General content from %d documents", n)},
	)
}

// generate runs the generative tier. The answer must be non-trivial; a
// near-duplicate of a recent answer to a different question triggers one
// retry with diversified sampling.
func (s *QueryService) generate(ctx context.Context, key, question, persona string, chunks []model.Chunk, multi bool) (string, bool) {
	if s.generator == nil {
		return "", false
	}

	contextText := buildContext(selectContext(chunks, question), multi)
	messages := s.buildMessages(ctx, key, question, persona, contextText)

	completion, err := s.generator.Complete(ctx, messages, randomSampling())
	if err != nil {
		log.Printf("tier generative failed: %v", err)
		return "", false
	}
	answer := strings.TrimSpace(completion.Text())
	if len(answer) <= s.cfg.MinAnswerChars {
		log.Printf("tier generative returned a trivial answer: %q", answer)
		return "", false
	}

	hash := responseHash(question, contextText)
	if s.isNearDuplicate(ctx, answer, hash) {
		log.Printf("tier generative answer is a near-duplicate, retrying with diversified sampling")
		retryMessages := append(append([]ai.ChatMessage(nil), messages...), ai.ChatMessage{
			Role:    "system",
			Content: "Your previous draft repeated an earlier answer. Answer this specific question from a different angle.",
		})
		retry, err := s.generator.Complete(ctx, retryMessages, diversifiedSampling())
		switch {
		case err != nil:
			log.Printf("tier generative retry failed: %v", err)
		case len(strings.TrimSpace(retry.Text())) > s.cfg.MinAnswerChars:
			answer = strings.TrimSpace(retry.Text())
		}
	}

	if err := s.history.Remember(ctx, model.RecentAnswer{Hash: hash, Answer: answer, At: s.now()}); err != nil {
		log.Printf("remember answer failed: %v", err)
	}
	return answer, true
}

func (s *QueryService) isNearDuplicate(ctx context.Context, answer, hash string) bool {
	recent, err := s.history.Recent(ctx, s.now())
	if err != nil {
		log.Printf("load answer history failed: %v", err)
		return false
	}
	return IsNearDuplicate(answer, hash, recent, s.cfg.SimilarityThreshold)
}

func (s *QueryService) buildMessages(ctx context.Context, key, question, persona, contextText string) []ai.ChatMessage {
	system := "You are a document analyst answering questions about uploaded documents. " +
		personaDirective(persona) +
		" Answer only from the provided context. If the context does not contain the answer, say so."

	messages := []ai.ChatMessage{{Role: "system", Content: system}}
	if s.conversations != nil && s.cfg.HistoryTurns > 0 {
		turns, err := s.conversations.Recent(ctx, key, s.cfg.HistoryTurns)
		if err != nil {
			log.Printf("load conversation history failed: %v", err)
		}
		for _, t := range turns {
			messages = append(messages,
				ai.ChatMessage{Role: "user", Content: t.Question},
				ai.ChatMessage{Role: "assistant", Content: t.Answer},
			)
		}
	}
	return append(messages, ai.ChatMessage{
		Role:    "user",
		Content: "Context:\n" + contextText + "\n\nQuestion: " + question,
	})
}

func (s *QueryService) remote(ctx context.Context, req retrieval.QueryRequest) (*QueryResult, bool) {
	if s.retriever == nil {
		return nil, false
	}
	resp, err := s.retriever.Query(ctx, req)
	if err != nil {
		log.Printf("tier remote failed: %v", err)
		return nil, false
	}
	if len(resp.Answers) == 0 || strings.TrimSpace(resp.Answers[0]) == "" {
		log.Printf("tier remote returned no answers")
		return nil, false
	}
	citations := resp.Citations
	if len(citations) == 0 {
		citations = []model.Citation{{DocumentID: req.DocumentID, Title: "Document", Source: "retrieval"}}
	}
	return &QueryResult{
		Status:    StatusOK,
		Answers:   resp.Answers,
		Citations: citations,
		Tier:      TierRemote,
	}, true
}

// record feeds an answered query into conversation memory and the turn log.
func (s *QueryService) record(ctx context.Context, key, question, persona string, result *QueryResult) {
	if result.Status != StatusOK || (s.conversations == nil && s.turns == nil) {
		return
	}
	turn := model.QATurn{
		DocumentKey: key,
		Question:    question,
		Answer:      result.Answers[0],
		Tier:        result.Tier,
		Persona:     NormalizePersona(persona),
		CreatedAt:   s.now(),
	}
	turn.SetCitations(result.Citations)

	if s.conversations != nil {
		if err := s.conversations.Append(ctx, key, turn); err != nil {
			log.Printf("append conversation turn failed: %v", err)
		}
	}
	if s.turns != nil {
		if err := s.turns.PublishTurn(ctx, turn); err != nil {
			log.Printf("publish qa turn failed: %v", err)
		}
	}
}

func (s *QueryService) topK(k int) int {
	if k <= 0 {
		return s.cfg.TopK
	}
	return k
}

type contextCandidate struct {
	score int
	chunk model.Chunk
}

// selectContext picks up to five chunks for the prompt. Question words in
// a chunk's title weigh twice as much as words in its text. Unrelated
// chunks are admitted only to reach a minimum of three.
func selectContext(chunks []model.Chunk, question string) []model.Chunk {
	words := WordSet(question)
	candidates := make([]contextCandidate, 0, len(chunks))
	for _, c := range chunks {
		text, title := WordSet(c.Text), WordSet(c.Title)
		score := 0
		for w := range words {
			if _, ok := text[w]; ok {
				score++
			}
			if _, ok := title[w]; ok {
				score += 2
			}
		}
		candidates = append(candidates, contextCandidate{score: score, chunk: c})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var out []model.Chunk
	for _, c := range candidates {
		if len(out) >= contextMaxChunks {
			break
		}
		if c.score > 0 || len(out) < contextMinChunks {
			out = append(out, c.chunk)
		}
	}
	return out
}

func buildContext(chunks []model.Chunk, multi bool) string {
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		block := fmt.Sprintf("Section: %s\nContent: %s", titleOr(c.Title, "Untitled"), c.Text)
		if multi && c.SourceName != "" {
			block = "Document: " + c.SourceName + "\n" + block
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

func randomSampling() ai.Sampling {
	seed := rand.Int64()
	return ai.Sampling{
		Temperature: 0.6 + rand.Float64()*0.4,
		TopP:        0.75 + rand.Float64()*0.23,
		MaxTokens:   2000,
		Seed:        &seed,
	}
}

func diversifiedSampling() ai.Sampling {
	seed := rand.Int64()
	return ai.Sampling{
		Temperature:      1.0,
		TopP:             0.95,
		FrequencyPenalty: 0.8,
		PresencePenalty:  0.7,
		MaxTokens:        2000,
		Seed:             &seed,
	}
}

func answered(tier, answer string, citation model.Citation) *QueryResult {
	return &QueryResult{
		Status:    StatusOK,
		Answers:   []string{answer},
		Citations: []model.Citation{citation},
		Tier:      tier,
	}
}

func notFound(msg string) *QueryResult {
	return &QueryResult{Status: StatusNotFound, Answers: []string{msg}, Citations: []model.Citation{}, Tier: TierNone}
}

func failed(msg string) *QueryResult {
	return &QueryResult{Status: StatusError, Answers: []string{msg}, Citations: []model.Citation{}, Tier: TierNone}
}

func snippet(text string, limit int) string {
	return textutil.Truncate(textutil.Clean(text), limit)
}

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) == "" {
		return fallback
	}
	return title
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
