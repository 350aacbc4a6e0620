package relay

import (
	"fmt"
	"unicode"

	"github.com/ireland-samantha/relaybot/internal/completion"
)

// EmptyInputReply is returned for blank messages.
const EmptyInputReply = "Ошибка: пустой ввод"

const (
	regularEmptyReply   = "Извините, я не смог сгенерировать ответ. Попробуйте еще раз."
	regularTimeoutReply = "Превышено время ожидания ответа. Попробуйте еще раз."
	regularAPIReply     = "Извините, произошла ошибка при обращении к нейросети. Попробуйте позже."
	regularFailureReply = "Произошла техническая ошибка. Попробуйте позже."

	businessEmptyTemplate   = "Привет! Я ИИ-ассистент %s. %s прочитает ваше сообщение и ответит, как только сможет. Чем могу помочь?"
	businessTimeoutTemplate = "Привет! Я ИИ-ассистент %s. Произошла задержка, но %s прочитает ваше сообщение и ответит, как только сможет."
	businessFailureTemplate = "Привет! Я ИИ-ассистент %s. Произошла техническая ошибка, но %s прочитает ваше сообщение и ответит, как только сможет."
)

// Fallbacks produces canned replies when the completion API cannot answer.
type Fallbacks struct {
	prompts completion.Prompts
}

// NewFallbacks creates fallbacks naming the owner from prompts.
func NewFallbacks(prompts completion.Prompts) Fallbacks {
	return Fallbacks{prompts: prompts}
}

// Empty is used when the API returned no text twice in a row.
func (f Fallbacks) Empty(business bool) string {
	if business {
		return fmt.Sprintf(businessEmptyTemplate, f.prompts.OwnerGenitive, capitalize(f.prompts.Owner))
	}
	return regularEmptyReply
}

// ForError picks the reply for a failed completion call.
func (f Fallbacks) ForError(business bool, err error) string {
	kind := completion.Classify(err)
	_, isAPI := completion.IsAPIError(err)

	if business {
		if kind == completion.KindTimeout {
			return f.business(businessTimeoutTemplate)
		}
		return f.business(businessFailureTemplate)
	}

	switch {
	case kind == completion.KindTimeout:
		return regularTimeoutReply
	case isAPI:
		return regularAPIReply
	default:
		return regularFailureReply
	}
}

func (f Fallbacks) business(template string) string {
	return fmt.Sprintf(template, f.prompts.OwnerGenitive, f.prompts.Owner)
}

// capitalize upper-cases the first rune.
func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(unicode.ToUpper(r[0])) + string(r[1:])
}
