package domain

// DefaultEmojis 是客户端默认展示的回应表情。
var DefaultEmojis = []string{"👍", "👎", "❤️", "😂", "🔥", "🛒", "✅", "❓"}
