package confirm

import (
	"strings"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

// Affirmation and continuation keywords that mark a reply as answering an
// outstanding clarification. Mixed Vietnamese/English, matching how users
// actually answer.
var affirmationKeywords = []string{
	"có", "ok", "oke", "okay", "ừ", "ừm", "dạ", "vâng",
	"đồng ý", "xác nhận", "đúng rồi", "đúng vậy", "chính xác",
	"chắc chắn", "làm đi", "tiếp tục", "được",
	"yes", "yep", "yeah", "sure", "confirm", "correct",
	"go ahead", "do it", "proceed",
}

// Domain keywords that signal the user is supplying the missing detail
// (a date, a time, a person) rather than starting a new request.
var domainKeywords = []string{
	"ngày", "giờ", "lúc", "phút", "sáng", "chiều", "tối",
	"hôm nay", "ngày mai", "tuần", "khách hàng", "deadline",
	"am", "pm", "tomorrow", "today", "customer",
}

// IsConfirmationResponse decides whether an utterance answers the pending
// clarification. This is a pure string heuristic and deliberately not a
// model call: it must run before the model is invoked again, so the caller
// knows whether to merge or to classify from scratch.
func IsConfirmationResponse(utterance string, p Pending) bool {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return false
	}

	for _, kw := range affirmationKeywords {
		if containsWord(text, kw) {
			return true
		}
	}

	// Overlap with what the clarification asked for.
	for _, missing := range p.MissingInfo {
		m := strings.ToLower(strings.TrimSpace(missing))
		if m == "" {
			continue
		}
		if strings.Contains(text, m) {
			return true
		}
		for _, tok := range strings.Fields(m) {
			if len(tok) >= 3 && strings.Contains(text, tok) {
				return true
			}
		}
	}

	for _, kw := range domainKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	if looksLikeClockTime(text) {
		return true
	}

	return false
}

// containsWord matches whole words so "có" fires but "công" does not.
func containsWord(text, word string) bool {
	if !strings.Contains(text, word) {
		return false
	}
	if strings.Contains(word, " ") {
		return true
	}
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	}) {
		if tok == word {
			return true
		}
	}
	return false
}

// looksLikeClockTime spots "14:30" / "9h" shapes.
func looksLikeClockTime(text string) bool {
	for i := 0; i < len(text)-1; i++ {
		if text[i] >= '0' && text[i] <= '9' {
			next := text[i+1]
			if next == ':' || next == 'h' {
				return true
			}
			if i+2 < len(text) && text[i+1] >= '0' && text[i+1] <= '9' {
				if c := text[i+2]; c == ':' || c == 'h' {
					return true
				}
			}
		}
	}
	return false
}

// MergeFallback synthesizes a minimal valid result from the pending payload
// plus the raw reply. It is used only when re-asking the model with the
// combined input fails; both required substructures are always present so
// downstream consumers never see a partial shape.
func MergeFallback(utterance string, p Pending) protocol.ConversationResult {
	res := protocol.ConversationResult{
		Mode:       "conversation",
		Intent:     "confirmation_merge",
		Confidence: 0.6,
	}
	if p.Conversation != nil {
		res = *p.Conversation
		res.NeedsConfirmation = false
		res.ConfirmationType = ""
	}

	if res.TaskAction == nil {
		res.TaskAction = &protocol.TaskAction{Action: "none"}
	}
	if res.SchedulingAction == nil {
		res.SchedulingAction = &protocol.SchedulingAction{Type: "none", Action: "none"}
	}
	if res.TaskAction.Task != nil && res.TaskAction.Task.Description != "" {
		res.TaskAction.Task.Description += "\n" + utterance
	} else if res.TaskAction.Task != nil {
		res.TaskAction.Task.Description = utterance
	}

	res.Messages = []protocol.Message{{
		Text:             "Đã ghi nhận thông tin bổ sung của bạn, mình xử lý ngay đây!",
		FacialExpression: "smile",
		Animation:        "Talking_0",
	}}
	return res
}
