package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.BrazilianPortuguese

	message.SetString(lang, "comms.state.draft", "Rascunho")
	message.SetString(lang, "comms.state.pending", "Pendente")
	message.SetString(lang, "comms.state.approved", "Aprovada")
	message.SetString(lang, "comms.state.queued", "Na fila")
	message.SetString(lang, "comms.state.sending", "Enviando")
	message.SetString(lang, "comms.state.sent", "Enviada")
	message.SetString(lang, "comms.state.delivered", "Entregue")
	message.SetString(lang, "comms.state.failed", "Falhou")
	message.SetString(lang, "comms.state.requires_attention", "Requer atenção")
	message.SetString(lang, "comms.state.cancelled", "Cancelada")
}
