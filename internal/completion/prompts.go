package completion

import (
	"fmt"
	"strings"
)

// RegularPrompt is the system instruction for direct chats with the bot.
const RegularPrompt = "Ты — полезный Telegram-бот. Отвечай дружелюбно и информативно на русском языке."

const businessPromptTemplate = `Ты — ИИ-ассистент %[2]s. Ты помогаешь клиентам в бизнес-чате.
Твоя роль:
• Представляйся как ИИ-ассистент %[2]s
• Объясняй, что %[1]s прочитает сообщение и ответит, как только сможет
• Предлагай свою помощь, если можешь быть полезен
• Будь вежливым, профессиональным и дружелюбным
• Отвечай на русском языке
• Если не можешь помочь с вопросом, предложи клиенту дождаться ответа`

// continuePrompt is appended to the business prompt once a dialogue exists.
const continuePrompt = `
Продолжай общение: ты уже представился в этом диалоге, не здоровайся и не представляйся повторно.`

// Prompts builds persona-dependent system instructions.
type Prompts struct {
	// Owner is the business account owner in the nominative case.
	Owner string
	// OwnerGenitive is the owner in the genitive case ("ассистент <OwnerGenitive>").
	OwnerGenitive string
}

// NewPrompts creates prompts for the given owner names. Empty names fall back
// to a neutral description of the account owner.
func NewPrompts(owner, ownerGenitive string) Prompts {
	owner = strings.TrimSpace(owner)
	ownerGenitive = strings.TrimSpace(ownerGenitive)
	if owner == "" {
		owner = "владелец аккаунта"
	}
	if ownerGenitive == "" {
		ownerGenitive = "владельца аккаунта"
	}
	return Prompts{Owner: owner, OwnerGenitive: ownerGenitive}
}

// Regular returns the instruction for direct chats.
func (p Prompts) Regular() string {
	return RegularPrompt
}

// Business returns the instruction for business chats. continuing selects the
// variant used when earlier turns are sent along.
func (p Prompts) Business(continuing bool) string {
	prompt := fmt.Sprintf(businessPromptTemplate, p.Owner, p.OwnerGenitive)
	if continuing {
		prompt += continuePrompt
	}
	return prompt
}

// System picks the instruction for a request.
func (p Prompts) System(business, continuing bool) string {
	if business {
		return p.Business(continuing)
	}
	return p.Regular()
}
