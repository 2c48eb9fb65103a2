package collaborator

import (
	"encoding/json"
	"strings"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - collaborator payloads to domain values
// ══════════════════════════════════════════════════════════════════════════════

// ConceptsFromCurriculum extracts the ordered concept list from a curriculum
// payload. Entries may be strings or objects with a name or title.
// A payload without a concepts list yields nil.
func ConceptsFromCurriculum(payload json.RawMessage) []string {
	if len(payload) == 0 {
		return nil
	}

	var dto curriculumDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return nil
	}

	out := make([]string, 0, len(dto.Concepts))
	for _, raw := range dto.Concepts {
		switch v := raw.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			var c conceptDTO
			if b, err := json.Marshal(v); err == nil && json.Unmarshal(b, &c) == nil {
				name := strings.TrimSpace(c.Name)
				if name == "" {
					name = strings.TrimSpace(c.Title)
				}
				if name != "" {
					out = append(out, name)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ResourcesFromPayload maps a resource lookup response. The payload may be
// {"resources": [...]} or a bare array. limit <= 0 keeps everything.
func ResourcesFromPayload(payload json.RawMessage, limit int) []session.Resource {
	var items []resourceDTO

	trimmed := strings.TrimSpace(string(payload))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(payload, &items); err != nil {
			return []session.Resource{}
		}
	case strings.HasPrefix(trimmed, "{"):
		var dto resourcesDTO
		if err := json.Unmarshal(payload, &dto); err != nil {
			return []session.Resource{}
		}
		items = dto.Resources
	}

	out := make([]session.Resource, 0, len(items))
	for _, it := range items {
		url := it.URL
		if url == "" {
			url = it.Link
		}
		if it.Title == "" && url == "" {
			continue
		}
		typ := it.Type
		if typ == "" {
			typ = "article"
		}
		out = append(out, session.Resource{Title: it.Title, URL: url, Type: typ})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
