package assistant

import (
	"fmt"
	"strings"

	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

// VisionHistoryWindow is how many previous messages accompany a photo.
const VisionHistoryWindow = 3

const systemPrompt = `Eres un asistente experto en mantenimiento de aeronaves que ayuda a operarios y técnicos de mantenimiento aeronáutico.

Puedes:
- dar información técnica precisa sobre procedimientos de mantenimiento;
- ayudar en inspecciones, reparaciones y diagnóstico de sistemas;
- explicar normativa y procedimientos de seguridad;
- interpretar manuales técnicos (AMM, CMM, SRM, IPC);
- identificar componentes y sistemas.

Reglas:
- La seguridad y la normativa aeronáutica van primero.
- Sé técnico y claro. Si no estás seguro, dilo.
- Recomienda consultar la documentación oficial del fabricante.
- Usa terminología ICAO/EASA/FAA y responde en español.

Cuando des instrucciones de una tarea, empieza siempre por:
**Herramientas y equipo necesario:** herramientas manuales, equipos de medición, herramientas especiales o calibradas y EPIs.
Después:
**Procedimiento:** pasos numerados.`

const stepPrompt = `

PASO ACTUAL DEL PROCEDIMIENTO:
Paso %d: %s
%s
Ayuda al operario a completar ESTE paso. Indica ubicaciones exactas, herramientas concretas (por ejemplo, torquímetro 0-50 Nm) y numera cada actividad. Explica qué hacer, dónde, con qué herramienta y cómo verificarlo.
Cuando el operario confirme que ha terminado, recuérdale marcar el paso como completado.`

const visionPrompt = `Eres un asistente experto en mantenimiento aeronáutico analizando una imagen.

PREGUNTA DEL USUARIO: %s
%s%s
Responde según el tipo de pregunta:
1. Verificación ("¿está bien?"): busca daños, fugas o fijaciones flojas y marca los problemas.
2. Ubicación ("¿dónde está?"): marca el componente que se menciona.
3. Identificación ("¿qué es?"): marca como mucho los 5 o 6 componentes más relevantes.
4. Inspección o procedimiento: da pasos concretos y marca los puntos clave.

Anotaciones (círculos):
- radius: entre 8 y 13 (porcentaje del lado corto de la imagen);
- x, y: centro del elemento en porcentaje (0-100);
- text: nombre corto y técnico en español;
- sin círculos superpuestos y solo elementos relevantes para la pregunta.

Devuelve SOLO JSON con este esquema:
` + VisionSchema

const extractPrompt = `Analiza el documento PDF adjunto: es un procedimiento de mantenimiento aeronáutico.
Extrae todos sus pasos en orden. Para cada paso da el número que aparece en el documento, un título breve (máximo 100 caracteres) y una descripción detallada.
Devuelve SOLO JSON con este esquema:
` + StepsSchema

const historyPrompt = `Analiza esta conversación de mantenimiento aeronáutico y genera un histórico estructurado.

CONVERSACIÓN:
%s

Reglas:
1. Incluye solo información mencionada EXPLÍCITAMENTE en la conversación.
2. Lo que no se mencione va como null o lista vacía.
3. El resumen ocupa 2 o 3 líneas; el título, como mucho 100 caracteres.
4. Solo incluye piezas que realmente se usaron.

Devuelve SOLO JSON con este esquema:
` + HistorySchema

const VisionSchema = `{
  "type": "object",
  "properties": {
    "analysis": {"type": "string"},
    "steps": {"type": "array", "items": {"type": "string"}},
    "annotations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "x": {"type": "number"},
          "y": {"type": "number"},
          "radius": {"type": "number"},
          "text": {"type": "string"}
        },
        "required": ["x", "y", "radius", "text"]
      }
    }
  },
  "required": ["analysis", "steps", "annotations"]
}`

const StepsSchema = `{
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "step_number": {"type": "string"},
          "title": {"type": "string"},
          "description": {"type": "string"}
        },
        "required": ["step_number", "title", "description"]
      }
    }
  },
  "required": ["steps"]
}`

const HistorySchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "summary": {"type": "string"},
    "aircraft_info": {
      "type": "object",
      "properties": {
        "model": {"type": ["string", "null"]},
        "registration": {"type": ["string", "null"]},
        "operator": {"type": ["string", "null"]}
      }
    },
    "maintenance_actions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "action": {"type": "string"},
          "result": {"type": ["string", "null"]},
          "date": {"type": ["string", "null"]}
        }
      }
    },
    "parts_used": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "part_name": {"type": "string"},
          "part_number": {"type": ["string", "null"]},
          "quantity": {"type": "integer"}
        }
      }
    }
  },
  "required": ["title", "summary"]
}`

// BuildSystemPrompt appends the chat context to the base instructions.
// PROMPT_DIR/system.txt replaces the base when present.
func BuildSystemPrompt(c *ChatContext) string {
	var b strings.Builder
	b.WriteString(util.LoadPrompt("system", systemPrompt))
	if c == nil {
		return b.String()
	}
	var lines []string
	if s := strings.TrimSpace(c.AirplaneModel); s != "" {
		lines = append(lines, "- Modelo de avión: "+s)
	}
	if s := strings.TrimSpace(c.ComponentType); s != "" {
		lines = append(lines, "- Componente/Sistema: "+s)
	}
	if len(lines) > 0 {
		b.WriteString("\n\nCONTEXTO DE ESTA CONVERSACIÓN:\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\nCentra tus respuestas en este avión y este sistema.")
	}
	if st := c.CurrentStep; st != nil {
		desc := ""
		if st.Description != nil && strings.TrimSpace(*st.Description) != "" {
			desc = "Descripción: " + strings.TrimSpace(*st.Description) + "\n"
		}
		fmt.Fprintf(&b, stepPrompt, st.Number, st.Title, desc)
	}
	return b.String()
}

// VisionPrompt is the user turn sent along with a photo.
func VisionPrompt(in VisionRequest) string {
	info := ""
	if c := in.Context; c != nil {
		info = fmt.Sprintf("\nModelo de avión: %s\nSistema/Componente: %s\n",
			orUnspecified(c.AirplaneModel), orUnspecified(c.ComponentType))
	}
	prev := ""
	if h := lastMessages(in.History, VisionHistoryWindow); len(h) > 0 {
		prev = "\nContexto de la conversación previa:\n" + Transcript(h) + "\n"
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		msg = "Analiza la imagen."
	}
	return fmt.Sprintf(util.LoadPrompt("vision", visionPrompt), msg, info, prev)
}

func ExtractStepsPrompt() string {
	return util.LoadPrompt("extract_steps", extractPrompt)
}

func HistoryPrompt(transcript []Message) string {
	return fmt.Sprintf(util.LoadPrompt("history", historyPrompt), Transcript(transcript))
}

// Transcript renders messages as "USUARIO: ..." / "ASISTENTE: ..." blocks.
func Transcript(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		who := "USUARIO"
		if m.Role == RoleAssistant {
			who = "ASISTENTE"
		}
		parts = append(parts, who+": "+strings.TrimSpace(m.Content))
	}
	return strings.Join(parts, "\n\n")
}

func lastMessages(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func orUnspecified(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "No especificado"
	}
	return s
}
