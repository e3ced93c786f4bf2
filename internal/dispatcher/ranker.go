package dispatcher

import (
	"strings"

	"github.com/jmehdipour/inference-gateway/internal/model"
)

// ModelRanker picks a model id from a provider catalog for the request.
// ok is false when nothing in the catalog can serve the intent.
type ModelRanker func(intent model.Intent, requested string, catalog []model.CatalogModel) (id string, ok bool)

const largeContext = 100_000

var intentHints = map[model.Intent][]string{
	model.IntentCode:     {"code", "coder"},
	model.IntentAnalysis: {"mixtral", "dolphin"},
	model.IntentImage:    {"flux", "sdxl", "stable-diffusion"},
	model.IntentChat:     {"llama", "dolphin", "qwen"},
}

func isImageModel(m model.CatalogModel) bool {
	if m.Type == model.MediaImage {
		return true
	}
	return containsAny(strings.ToLower(m.ID), intentHints[model.IntentImage])
}

func servesMedia(m model.CatalogModel, media string) bool {
	if media == model.MediaImage {
		return isImageModel(m)
	}
	return !isImageModel(m)
}

// HeuristicRanker honours an explicit model when the catalog has it, then
// matches name hints per intent and finally falls back to the first model of
// the right media type.
func HeuristicRanker(intent model.Intent, requested string, catalog []model.CatalogModel) (string, bool) {
	media := intent.MediaType()

	if requested != "" && requested != model.AutoSelectModel {
		for _, m := range catalog {
			if m.ID == requested && servesMedia(m, media) {
				return m.ID, true
			}
		}
	}

	var first string
	for _, m := range catalog {
		if !servesMedia(m, media) {
			continue
		}
		if first == "" {
			first = m.ID
		}
		id := strings.ToLower(m.ID)
		if intent == model.IntentAnalysis && m.ContextLength > largeContext {
			return m.ID, true
		}
		if containsAny(id, intentHints[intent]) {
			return m.ID, true
		}
	}
	return first, first != ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
