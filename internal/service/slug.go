package service

import "strings"

// Slugify приводит имя сообщества к slug: нижний регистр, любые последовательности
// символов кроме [a-z0-9] схлопываются в один дефис, дефисы по краям срезаются.
// "Plastic  Recyclers!" -> "plastic-recyclers".
// Транслитерации нет: имя без латиницы и цифр ("Переработка") даёт пустой slug,
// и CreateCommunity отклоняет его с ErrInvalidArgument.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}

		pendingDash = true
	}

	return b.String()
}
