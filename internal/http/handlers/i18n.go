package handlers

import "server/internal/orchestrator"

// reasonCatalog localizes the canonical failure messages. Provider-specific
// reasons pass through untranslated.
var reasonCatalog = map[string]map[string]string{
	orchestrator.ContentPolicyMessage: {
		"id": "penyedia menolak konten ini karena melanggar kebijakan kontennya",
		"es": "el proveedor rechazó este contenido por infringir su política de contenido",
	},
	orchestrator.GenericFailureMessage: {
		"id": "pembuatan aset gagal di penyedia",
		"es": "la generación falló en el proveedor",
	},
}

func localizeReason(locale, reason string) string {
	if translations, ok := reasonCatalog[reason]; ok {
		if translated, ok := translations[locale]; ok {
			return translated
		}
	}
	return reason
}
