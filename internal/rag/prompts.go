package rag

import "strings"

const extractionSystem = `Você é um Analista de Requisitos Sênior especializado em extração de dados técnicos.
Sua missão é extrair apenas fatos e requisitos técnicos.
REGRAS CRÍTICAS:
1. Responda APENAS em Português Brasileiro.
2. NÃO adicione opiniões ou interpretações.
3. NÃO invente informações.
4. Se o trecho não contiver requisitos, responda: "Nenhuma informação técnica relevante."`

const consolidationSystem = "Você é um Engenheiro de Requisitos Sênior responsável por consolidar documentação de múltiplos arquivos."

func extractionPrompt(chunk string) string {
	return `Extraia do texto abaixo:
- Regras de Negócio
- Requisitos Funcionais (o que o sistema faz)
- Requisitos Não Funcionais (qualidade, performance, segurança)
- Premissas e Restrições

TEXTO:
<<<
` + chunk + `
>>>
`
}

func consolidationPrompt(extractions []string) string {
	return `Consolide as seguintes extrações técnicas em um único documento estruturado.
Remova duplicatas e organize por categorias.

EXTRAÇÕES:
` + strings.Join(extractions, "\n") + `

SAÍDA ESTRUTURADA (Markdown):
## 1. Regras de Negócio
## 2. Requisitos Funcionais
## 3. Requisitos Não Funcionais
## 4. Premissas e Restrições
`
}

func summaryPrompt(consolidated string) string {
	return `Baseado na análise consolidada abaixo, gere um resumo curto de entendimento.
Use EXATAMENTE este formato:
"Resumo dos documentos analisados, após analisar a documentação na base de conhecimento, entendo que a necessidade do cliente [NOME DO CLIENTE], é resolver o problema de '[PROBLEMA PRINCIPAL]' de sua loja/empresa."

ANÁLISE:
` + consolidated
}
