package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/editor"
	"github.com/rulekeeper/rulekeeper/internal/rules"
)

const (
	modeAdd     = "add"
	modeReplace = "replace"
)

type ruleJSON struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Value       string `json:"value"`
	Policy      string `json:"policy,omitempty"`
	Description string `json:"description"`
}

func toRuleJSON(r rules.Rule, index int) ruleJSON {
	return ruleJSON{
		Index:       index,
		Kind:        r.Kind.Token(),
		Value:       r.Value,
		Policy:      r.Policy.String(),
		Description: rules.Describe(r),
	}
}

func toRulesJSON(items []rules.Indexed) []ruleJSON {
	out := make([]ruleJSON, 0, len(items))
	for _, it := range items {
		out = append(out, toRuleJSON(it.Rule, it.Index))
	}
	return out
}

func countsJSON(counts map[rules.Kind]int) map[string]int {
	out := make(map[string]int, len(rules.Kinds))
	for _, k := range rules.Kinds {
		out[k.Token()] = counts[k]
	}
	return out
}

type commitJSON struct {
	SHA string `json:"sha,omitempty"`
	URL string `json:"url,omitempty"`
}

type editResponse struct {
	File   string     `json:"file"`
	Rule   ruleJSON   `json:"rule"`
	Commit commitJSON `json:"commit"`
}

func toEditResponse(res editor.Result) editResponse {
	return editResponse{
		File:   res.File,
		Rule:   toRuleJSON(res.Rule, -1),
		Commit: commitJSON{SHA: res.Commit.SHA, URL: res.Commit.URL},
	}
}

type editRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
	Mode  string `json:"mode"`
}

func decodeEdit(r *http.Request) (editRequest, rules.Kind, error) {
	var req editRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, 0, &APIError{Status: http.StatusRequestEntityTooLarge, Code: "too_large", Message: "request body too large"}
		}
		return req, 0, badRequest("request body must be a JSON object", err)
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		return req, 0, err
	}
	if strings.TrimSpace(req.Value) == "" {
		return req, 0, badRequest("value is required", nil)
	}
	return req, kind, nil
}

func parseKind(token string) (rules.Kind, error) {
	kind, ok := rules.ParseKindFold(token)
	if !ok {
		return 0, badRequest(fmt.Sprintf("unknown rule kind %q", token), nil)
	}
	return kind, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("%s must be an integer", name), err)
	}
	return n, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ string) error {
	opts := editor.ViewOptions{}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		for _, token := range strings.Split(raw, ",") {
			kind, err := parseKind(token)
			if err != nil {
				return err
			}
			opts.Kinds = append(opts.Kinds, kind)
		}
	}
	var err error
	if opts.Page, err = intParam(r, "page", 1); err != nil {
		return err
	}
	if opts.PageSize, err = intParam(r, "size", editor.DefaultPageSize); err != nil {
		return err
	}
	if opts.PageSize > editor.MaxPageSize {
		return badRequest(fmt.Sprintf("size must be at most %d", editor.MaxPageSize), nil)
	}

	listing, err := s.editor.View(r.Context(), r.PathValue("file"), opts)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":   listing.File,
		"page":   listing.Page,
		"pages":  listing.Pages,
		"total":  listing.Total,
		"counts": countsJSON(listing.Counts),
		"items":  toRulesJSON(listing.Items),
	})
	return nil
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request, _ string) error {
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		return err
	}
	p, err := s.editor.Prepare(r.Context(), r.PathValue("file"), kind, r.URL.Query().Get("value"))
	if err != nil {
		return err
	}
	body := map[string]any{
		"file":   p.File,
		"rule":   toRuleJSON(p.Rule, -1),
		"status": p.Status.String(),
	}
	if p.Existing != nil {
		body["existing"] = toRuleJSON(*p.Existing, -1)
	}
	writeJSON(w, http.StatusOK, body)
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ string) error {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		return badRequest("q is required", nil)
	}
	items, err := s.editor.Search(r.Context(), r.PathValue("file"), q)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "items": toRulesJSON(items)})
	return nil
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request, _ string) error {
	f, err := s.editor.Raw(r.Context(), r.PathValue("file"))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("ETag", strconv.Quote(f.SHA))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(f.Text))
	return nil
}

type commitInfoJSON struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	URL     string    `json:"url"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request, _ string) error {
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		return err
	}
	commits, err := s.editor.Recent(r.Context(), r.PathValue("file"), limit)
	if err != nil {
		return err
	}
	out := make([]commitInfoJSON, 0, len(commits))
	for _, c := range commits {
		out = append(out, commitInfoJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": out})
	return nil
}

type fileStatsJSON struct {
	File    string         `json:"file"`
	Total   int            `json:"total"`
	Counts  map[string]int `json:"counts"`
	Percent map[string]int `json:"percent"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ string) error {
	stats, err := s.editor.Stats(r.Context())
	if err != nil {
		return err
	}
	out := make([]fileStatsJSON, 0, len(stats))
	for _, st := range stats {
		pct := make(map[string]int, len(rules.Kinds))
		for _, k := range rules.Kinds {
			pct[k.Token()] = st.Percent(k)
		}
		out = append(out, fileStatsJSON{File: st.File, Total: st.Total, Counts: countsJSON(st.Counts), Percent: pct})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
	return nil
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, user string) error {
	req, kind, err := decodeEdit(r)
	if err != nil {
		return err
	}
	add := editor.AddRequest{File: r.PathValue("file"), Kind: kind, Value: req.Value, User: user}

	var res editor.Result
	switch req.Mode {
	case "", modeAdd:
		res, err = s.editor.Add(r.Context(), add)
	case modeReplace:
		res, err = s.editor.Replace(r.Context(), add)
	default:
		return badRequest(fmt.Sprintf("unknown mode %q", req.Mode), nil)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, toEditResponse(res))
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, user string) error {
	req, kind, err := decodeEdit(r)
	if err != nil {
		return err
	}
	res, err := s.editor.Delete(r.Context(), editor.DeleteRequest{File: r.PathValue("file"), Kind: kind, Value: req.Value, User: user})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toEditResponse(res))
	return nil
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request, user string) error {
	res, err := s.editor.NormalizeFile(r.Context(), r.PathValue("file"), user)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":    res.File,
		"changed": res.Changed,
		"commit":  commitJSON{SHA: res.Commit.SHA, URL: res.Commit.URL},
	})
	return nil
}
