package services

import (
	"math/rand/v2"
	"strings"
	"unicode"
)

// GreetingText seeds every new conversation
const GreetingText = "Xin chào! 🌸 Chào mừng bạn đến với shop hoa. " +
	"Bạn cần tư vấn mẫu hoa, giá cả hay tình trạng đơn hàng? Hãy nhắn cho chúng tôi nhé!"

// ClosingText is shown to the customer when staff close the conversation
const ClosingText = "Cuộc trò chuyện đã kết thúc. Cảm ơn bạn đã liên hệ! " +
	"Bạn có thể đánh giá chất lượng hỗ trợ hoặc nhắn tin bất cứ lúc nào để được hỗ trợ tiếp."

type replyRule struct {
	name     string
	keywords []string
	reply    string
}

// replyRules are evaluated in order; the first match wins
var replyRules = []replyRule{
	{
		name:     "human",
		keywords: []string{"nhân viên", "người thật", "tư vấn viên", "gặp người", "human", "agent", "real person"},
		reply:    "Mình đã báo cho nhân viên hỗ trợ. Bạn vui lòng chờ trong giây lát, nhân viên sẽ vào trò chuyện ngay ạ.",
	},
	{
		name:     "price",
		keywords: []string{"giá", "bao nhiêu", "price", "cost", "how much"},
		reply:    "Các mẫu hoa của shop có giá từ 250.000đ đến 2.500.000đ tùy kích thước và loại hoa. Bạn cho mình biết dịp tặng và ngân sách để được gợi ý mẫu phù hợp nhé!",
	},
	{
		name:     "order",
		keywords: []string{"đơn hàng", "mã đơn", "kiểm tra đơn", "order", "tracking"},
		reply:    "Bạn vui lòng gửi mã đơn hàng hoặc số điện thoại đặt hàng, nhân viên sẽ kiểm tra tình trạng đơn giúp bạn ạ.",
	},
	{
		name:     "shipping",
		keywords: []string{"giao hàng", " ship ", "shipping", "vận chuyển", "giao hoa", "delivery"},
		reply:    "Shop giao hoa nội thành trong 2-3 giờ, miễn phí giao cho đơn từ 500.000đ. Ngoại thành phụ thu tùy khoảng cách ạ.",
	},
	{
		name:     "payment",
		keywords: []string{"thanh toán", "chuyển khoản", "momo", " cod ", "payment", " pay "},
		reply:    "Shop nhận thanh toán khi nhận hàng (COD), chuyển khoản ngân hàng, ví MoMo và thẻ tín dụng ạ.",
	},
	{
		name:     "hours",
		keywords: []string{"giờ mở cửa", "mấy giờ", "mở cửa", "đóng cửa", "opening hours", " open "},
		reply:    "Shop mở cửa từ 7:00 đến 21:00 tất cả các ngày trong tuần, kể cả ngày lễ ạ.",
	},
	{
		name:     "address",
		keywords: []string{"địa chỉ", "ở đâu", "cửa hàng", "address", "location", "where"},
		reply:    "Bạn có thể xem địa chỉ cửa hàng ở cuối trang web. Shop cũng nhận đặt hoa online và giao tận nơi ạ.",
	},
	{
		name:     "refund",
		keywords: []string{"đổi trả", "hoàn tiền", "đổi hoa", "refund", "return"},
		reply:    "Nếu hoa bị dập héo khi nhận, bạn chụp ảnh gửi shop trong vòng 2 giờ để được đổi mới hoặc hoàn tiền ạ.",
	},
	{
		name:     "care",
		keywords: []string{"chăm sóc", "tưới", "giữ hoa", "bảo quản", "care", "fresh"},
		reply:    "Để hoa tươi lâu, bạn cắt xéo gốc, thay nước mỗi ngày và đặt hoa nơi thoáng mát, tránh nắng trực tiếp nhé!",
	},
	{
		name:     "greeting",
		keywords: []string{"xin chào", "chào", "hello", " hi ", " hey "},
		reply:    "Chào bạn! Shop có thể giúp gì cho bạn hôm nay ạ? 🌷",
	},
	{
		name:     "thanks",
		keywords: []string{"cảm ơn", "cám ơn", "thank"},
		reply:    "Không có gì ạ! Rất vui được hỗ trợ bạn. 💐",
	},
	{
		name:     "goodbye",
		keywords: []string{"tạm biệt", "bye", "goodbye"},
		reply:    "Tạm biệt bạn! Chúc bạn một ngày tốt lành. 🌼",
	},
}

var fallbackReplies = []string{
	"Cảm ơn bạn đã nhắn tin! Nhân viên sẽ phản hồi bạn trong thời gian sớm nhất.",
	"Shop đã nhận được tin nhắn của bạn. Bạn có thể hỏi về giá, giao hàng hoặc tình trạng đơn hàng nhé!",
	"Mình chưa hiểu rõ câu hỏi. Bạn vui lòng mô tả thêm hoặc chờ nhân viên hỗ trợ trong giây lát ạ.",
}

// AutoResponder is the pure keyword-matching reply function
type AutoResponder struct {
	pick func(n int) int
}

// NewAutoResponder creates a responder choosing fallbacks at random
func NewAutoResponder() *AutoResponder {
	return &AutoResponder{pick: rand.IntN}
}

// Respond returns the reply text for a customer message and the matched rule
// name ("fallback" when nothing matched)
func (a *AutoResponder) Respond(text string) (string, string) {
	// Punctuation becomes a space and the text is padded so word keywords
	// like " hi " match at either end of a message
	normalized := " " + strings.Map(wordRune, strings.ToLower(text)) + " "

	for _, rule := range replyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.reply, rule.name
			}
		}
	}
	return fallbackReplies[a.pick(len(fallbackReplies))], "fallback"
}

func wordRune(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
		return r
	}
	return ' '
}
