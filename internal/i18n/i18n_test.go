package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguagesHaveSameKeys(t *testing.T) {
	for key := range translations[EN] {
		assert.Contains(t, translations[ZH], key)
	}
	for key := range translations[ZH] {
		assert.Contains(t, translations[EN], key)
	}
}

func TestT(t *testing.T) {
	t.Cleanup(func() { SetLanguage(EN) })

	assert.Equal(t, "Ready", T("tray_ready"))
	assert.Equal(t, "missing_key", T("missing_key"))

	assert.True(t, SetLanguage(ZH))
	assert.Equal(t, ZH, GetLanguage())
	assert.Equal(t, "就绪", T("tray_ready"))

	assert.False(t, SetLanguage("ru"))
	assert.Equal(t, ZH, GetLanguage())
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "English", LanguageName(EN))
	assert.Equal(t, "中文", LanguageName(ZH))
	assert.Equal(t, "fr", LanguageName("fr"))
	assert.Len(t, AvailableLanguages(), 2)
}
