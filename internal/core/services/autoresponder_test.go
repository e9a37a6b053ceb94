package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoResponder_MatchesRules(t *testing.T) {
	responder := NewAutoResponder()

	tests := []struct {
		text string
		rule string
	}{
		{"Cho mình gặp nhân viên tư vấn", "human"},
		{"Bó hoa này GIÁ bao nhiêu?", "price"},
		{"How much is the rose bouquet?", "price"},
		{"Kiểm tra đơn hàng giúp mình", "order"},
		{"Có giao hàng tận nơi không?", "shipping"},
		{"Mình thanh toán bằng momo được không", "payment"},
		{"Shop mở cửa lúc nào", "hours"},
		{"Địa chỉ shop ở đâu vậy", "address"},
		{"Hoa bị héo, mình muốn hoàn tiền", "refund"},
		{"Làm sao để bảo quản hoa lâu", "care"},
		{"Xin chào shop", "greeting"},
		{"hi", "greeting"},
		{"Cảm ơn nhiều nha", "thanks"},
		{"bye bye", "goodbye"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			reply, rule := responder.Respond(tt.text)
			assert.Equal(t, tt.rule, rule)
			assert.NotEmpty(t, reply)
		})
	}
}

func TestAutoResponder_WordKeywordDoesNotMatchInsideWords(t *testing.T) {
	responder := &AutoResponder{pick: func(int) int { return 0 }}

	for _, text := range []string{
		"chi tiết mẫu lan hồ điệp",
		"do they have roses",
		"my discount code is wrong",
		"our relationship anniversary",
		"the card was opened",
	} {
		t.Run(text, func(t *testing.T) {
			reply, rule := responder.Respond(text)
			assert.Equal(t, "fallback", rule)
			assert.Equal(t, fallbackReplies[0], reply)
		})
	}
}

func TestAutoResponder_WordKeywordNextToPunctuation(t *testing.T) {
	responder := NewAutoResponder()

	tests := []struct {
		text string
		rule string
	}{
		{"hey!", "greeting"},
		{"Hi, shop", "greeting"},
		{"Can I pay by COD?", "payment"},
		{"Do you ship today?", "shipping"},
		{"Are you open now?", "hours"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, rule := responder.Respond(tt.text)
			assert.Equal(t, tt.rule, rule)
		})
	}
}

func TestAutoResponder_FallbackRotation(t *testing.T) {
	next := 0
	responder := &AutoResponder{pick: func(n int) int {
		i := next % n
		next++
		return i
	}}

	seen := make(map[string]bool)
	for i := 0; i < len(fallbackReplies); i++ {
		reply, rule := responder.Respond("???")
		assert.Equal(t, "fallback", rule)
		seen[reply] = true
	}
	assert.Len(t, seen, len(fallbackReplies))
}

func TestAutoResponder_FirstRuleWins(t *testing.T) {
	responder := NewAutoResponder()

	// Mentions both a human request and a price question
	_, rule := responder.Respond("cho mình gặp nhân viên hỏi giá")
	assert.Equal(t, "human", rule)
}
