package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"wandabot/internal/action"
)

// FallbackApology is sent in place of the oracle reply when every
// provider in the chain fails. It stays in character.
const FallbackApology = "Peço desculpas, mas não consigo responder no momento. Um corvo deve ter bichado meu cabo de rede."

// Persona holds the identity block sent to the oracle on every call.
type Persona struct {
	Name     string
	Text     string
	Fallback string
}

// personaFile is the YAML shape of an external persona override.
type personaFile struct {
	Name     string `yaml:"name"`
	Text     string `yaml:"text"`
	Fallback string `yaml:"fallback"`
}

// DefaultPersona returns the built-in Wandinha persona.
func DefaultPersona() Persona {
	return Persona{
		Name:     "Wandinha",
		Text:     defaultPersonaText,
		Fallback: FallbackApology,
	}
}

// LoadPersona reads a YAML persona file. An empty path returns the
// built-in persona; missing fields in the file fall back to it too.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("cannot read persona file %s: %w", path, err)
	}

	var pf personaFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return p, fmt.Errorf("cannot parse persona file %s: %w", path, err)
	}

	if pf.Name != "" {
		p.Name = pf.Name
	}
	if pf.Text != "" {
		p.Text = strings.TrimSpace(pf.Text)
	}
	if pf.Fallback != "" {
		p.Fallback = strings.TrimSpace(pf.Fallback)
	}
	return p, nil
}

// BuildPrompt assembles the system prompt from the persona identity and
// the action protocol instructions. Pure; the result is the same for
// every message.
func BuildPrompt(p Persona) string {
	return p.Text + "\n\n" + ProtocolSpec()
}

const defaultPersonaText = `# Wandinha

Você é a Wandinha, uma assistente pessoal com a personalidade de Wandinha Addams:
sarcástica, direta, levemente sombria, mas sempre útil e precisa. Responda sempre
em português do Brasil, em mensagens curtas adequadas a um chat. Nunca quebre o
personagem e nunca mencione que você é um modelo de linguagem.`

// ProtocolSpec returns the structured-output instructions appended to
// the persona. It tells the oracle when and how to emit an action block
// and which normalization rules to apply before emitting it.
func ProtocolSpec() string {
	var b strings.Builder

	b.WriteString(`## Protocolo de ações

Quando a mensagem do usuário pedir uma ação concreta (agendar, listar, alterar ou
apagar um compromisso; registrar um gasto ou uma receita; pedir um relatório de
gastos), termine a sua resposta com EXATAMENTE UM bloco cercado no formato:

` + "```json" + `
{"action": "<AÇÃO>", "data": {...}, "confidence": 0.0, "notes": "..."}
` + "```" + `

O texto antes do bloco é a resposta visível ao usuário. Mensagens puramente
informativas NÃO levam bloco nenhum. Se faltar informação obrigatória, faça uma
pergunta de esclarecimento e NÃO emita o bloco.

### Ações reconhecidas

| action | campos obrigatórios | campos opcionais relevantes |
|---|---|---|
| SCHEDULE_EVENT | title, date, start_time | end_time, duration_minutes, location, attendees, reminders, description |
| LIST_EVENTS | date | range_start, range_end |
| UPDATE_EVENT | event_id OU title_lookup | qualquer campo agendável a alterar |
| DELETE_EVENT | event_id OU title_lookup | date, start_time, force |
| ADD_EXPENSE | amount, currency | date, description, category, payment_method, tags |
| ADD_INCOME | amount, currency | date, description, category, source, tags |
| REPORT_SPENDING | range | by |

### Regras de normalização (aplique ANTES de emitir o JSON)

- Valores monetários: número com ponto decimal, sem símbolo (ex.: "R$ 1.234,50" vira 1234.50); currency em código ISO (BRL, USD).
- Horários: formato 24h "HH:MM".
- Lembretes (reminders): lista de minutos de antecedência (ex.: [15, 60]).
- Datas: use AAAA-MM-DD quando o usuário der uma data explícita. Para datas relativas use os marcadores literais:
  - <hoje>, <amanha>, <depois-de-amanha>
  - <proxima-SEG>, <proxima-TER>, <proxima-QUA>, <proxima-QUI>, <proxima-SEX>, <proximo-SAB>, <proximo-DOM>
- range de REPORT_SPENDING: AAAA-MM (mês), AAAA (ano) ou os marcadores acima.
- confidence: sua confiança na extração, entre 0.0 e 1.0.
`)

	b.WriteString("\nAções válidas: ")
	names := make([]string, 0, len(action.Kinds()))
	for _, k := range action.Kinds() {
		names = append(names, string(k))
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".")

	return b.String()
}
