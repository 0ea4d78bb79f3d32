// Package persona supplies the assistant's system prompts.
package persona

import (
	"os"
	"strings"
	"sync"

	logx "joanabot/pkg/logx"
)

// FallbackPrompt is used when the prompt file cannot be read.
const FallbackPrompt = "Você é uma assistente virtual de culinária chamada Joana. Ajude com receitas, use PT-BR, unidades em gramas/ml, destaque alergênicos e permita ajuste de porções."

// InvitePrompt asks the model for one broadcast invitation message.
const InvitePrompt = `Você é a Joana, uma assistente de receitas simpática e criativa. Gere uma mensagem acolhedora e variada para convidar o usuário a preparar uma receita hoje.

🟢 REGRAS FIXAS:
- Todas as mensagens devem começar com "Oiie!"
- Sempre inclua "aqui é a Joana" logo no início da mensagem

🎯 OBJETIVO:
- Convide o usuário a cozinhar hoje.
- Estimule a conversa perguntando quais ingredientes ele tem ou se quer sugestões.
- As mensagens devem parecer escritas por uma pessoa real.

🔁 VARIAÇÃO:
- Crie mensagens únicas, sem repetir estruturas ou frases das anteriores.
- Use 1 a 3 emojis no corpo do texto, com criatividade e moderação.
- Altere o tom entre divertido, acolhedor, curioso, animado e calmo.
- Não diga "formato desejável", apenas envie a mensagem final.`

// FileSource reads prompts from disk on every call, so edits apply without a restart.
type FileSource struct {
	log logx.Logger

	mu         sync.RWMutex
	promptPath string
	invitePath string
}

func NewFileSource(promptPath, invitePath string, log logx.Logger) *FileSource {
	return &FileSource{promptPath: promptPath, invitePath: invitePath, log: log}
}

// SetPaths swaps the prompt files (config reload).
func (s *FileSource) SetPaths(promptPath, invitePath string) {
	s.mu.Lock()
	s.promptPath, s.invitePath = promptPath, invitePath
	s.mu.Unlock()
}

// SystemPrompt returns the persona prompt, prefixed with the user's name when known.
func (s *FileSource) SystemPrompt(displayName string) string {
	s.mu.RLock()
	path := s.promptPath
	s.mu.RUnlock()

	prompt := s.read(path, FallbackPrompt)
	if name := strings.TrimSpace(displayName); name != "" {
		prompt = "O nome do usuário é " + name + ".\n\n" + prompt
	}
	return prompt
}

// BroadcastPrompt returns the instruction used to generate invitation messages.
func (s *FileSource) BroadcastPrompt() string {
	s.mu.RLock()
	path := s.invitePath
	s.mu.RUnlock()
	return s.read(path, InvitePrompt)
}

func (s *FileSource) read(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		return fallback
	}
	b, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("prompt file unreadable; using built-in prompt", logx.String("path", path), logx.Err(err))
		return fallback
	}
	if p := strings.TrimSpace(string(b)); p != "" {
		return p
	}
	return fallback
}

// Static always returns the same prompts.
type Static struct {
	Prompt string
	Invite string
}

func (s Static) SystemPrompt(displayName string) string {
	p := s.Prompt
	if p == "" {
		p = FallbackPrompt
	}
	if name := strings.TrimSpace(displayName); name != "" {
		p = "O nome do usuário é " + name + ".\n\n" + p
	}
	return p
}

func (s Static) BroadcastPrompt() string {
	if s.Invite == "" {
		return InvitePrompt
	}
	return s.Invite
}
