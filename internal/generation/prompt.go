package generation

import (
	"strings"

	"sgid/api/internal/store"
)

const baseSystemPrompt = `Você é um redator técnico responsável por documentos institucionais.
REGRAS:
1. Responda APENAS em Português Brasileiro.
2. Escreva somente o conteúdo da seção pedida, sem repetir o título.
3. Não invente fatos que não estejam no contexto fornecido.
4. Use parágrafos curtos e listas quando fizer sentido.`

type promptInput struct {
	DocumentName string
	DocumentType string
	ProjectName  string
	Context      string
	Summary      string
	Section      store.Section
	Siblings     string
}

func systemPrompt(guidance string) string {
	guidance = strings.TrimSpace(guidance)
	if guidance == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\nORIENTAÇÕES DO MODELO DE DOCUMENTO:\n" + guidance
}

func sectionPrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString("Documento: " + in.DocumentName + "\n")
	if in.DocumentType != "" {
		sb.WriteString("Tipo: " + in.DocumentType + "\n")
	}
	sb.WriteString("Projeto: " + in.ProjectName + "\n\n")

	if in.Summary != "" {
		sb.WriteString("RESUMO DO PROJETO:\n" + strings.TrimSpace(in.Summary) + "\n\n")
	}
	if in.Context != "" {
		sb.WriteString("BASE DE CONHECIMENTO:\n<<<\n" + strings.TrimSpace(in.Context) + "\n>>>\n\n")
	}
	if in.Siblings != "" {
		sb.WriteString("OUTRAS SEÇÕES JÁ ESCRITAS:\n<<<\n" + in.Siblings + "\n>>>\n\n")
	}

	sb.WriteString("Escreva a seção \"" + in.Section.Title + "\".\n")
	if help := strings.TrimSpace(in.Section.HelpText); help != "" {
		sb.WriteString("Instruções da seção: " + help + "\n")
	}
	return sb.String()
}
