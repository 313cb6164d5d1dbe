// Package i18n provides internationalization support.
package i18n

import "sync"

// Language represents a UI language.
type Language string

const (
	EN Language = "en"
	ZH Language = "zh"
)

var (
	mu      sync.RWMutex
	current = EN // Default language
)

// Translations for all supported languages.
var translations = map[Language]map[string]string{
	EN: {
		// App
		"app_name":    "RecallAI",
		"app_tooltip": "RecallAI - interview assistant",

		// Tray menu
		"tray_starting":           "Starting backend...",
		"tray_ready":              "Ready",
		"tray_recording":          "Interview in progress",
		"tray_offline":            "Backend offline",
		"tray_failed":             "Backend keeps crashing",
		"tray_start":              "Start interview",
		"tray_stop":               "Stop interview",
		"tray_rewind":             "Rewind",
		"tray_rewind_hint":        "Re-run matching on the recent transcript",
		"tray_sign_in":            "Sign in...",
		"tray_sign_in_hint":       "Paste an access token",
		"tray_microphone":         "Microphone...",
		"tray_microphone_hint":    "Choose the input device",
		"tray_restart":            "Restart backend",
		"tray_notifications":      "Notifications",
		"tray_notifications_hint": "Show desktop notifications",
		"tray_language":           "Language",
		"tray_quit":               "Quit",
		"tray_quit_hint":          "Stop the backend and exit",

		// Hotkeys menu
		"tray_hotkeys":        "Hotkeys",
		"tray_session_hotkey": "Start/stop interview...",
		"tray_dismiss_hotkey": "Dismiss card...",

		// Notifications
		"notify_ready":        "Backend is ready",
		"notify_ready_hint":   "Start an interview from the tray menu",
		"notify_offline":      "Backend is offline",
		"notify_offline_hint": "Trying to restart it",
		"notify_restarted":    "Backend restarted",
		"notify_failed":       "Backend stopped restarting",
		"notify_failed_hint":  "Use \"Restart backend\" from the tray menu",
		"notify_card":         "Card matched",
		"notify_cloud_error":  "Cloud API error",
		"notify_saved":        "Transcript saved",
		"notify_error":        "Error",

		// Dialogs
		"dialog_hotkey_modifiers": "Select modifiers:",
		"dialog_hotkey_key":       "Select a key:",
		"dialog_token_title":      "Sign in",
		"dialog_token_prompt":     "Access token:",
		"dialog_mic_title":        "Microphone",
		"dialog_mic_prompt":       "Select the input device:",
		"dialog_no_mics":          "No microphones found",
		"dialog_error_title":      "RecallAI error",

		// Overlay
		"overlay_close":  "Esc to close",
		"overlay_copy":   "Copy",
		"overlay_copied": "Copied",

		// Startup window
		"startup_starting":   "Starting backend...",
		"startup_restarting": "Restarting backend...",
		"startup_waiting":    "Waiting for the backend to answer...",
		"startup_failed":     "Backend failed to start",
		"startup_ready":      "Ready",
	},
	ZH: {
		// App
		"app_name":    "RecallAI",
		"app_tooltip": "RecallAI - 面试助手",

		// Tray menu
		"tray_starting":           "正在启动后端...",
		"tray_ready":              "就绪",
		"tray_recording":          "面试进行中",
		"tray_offline":            "后端离线",
		"tray_failed":             "后端反复崩溃",
		"tray_start":              "开始面试",
		"tray_stop":               "结束面试",
		"tray_rewind":             "回溯",
		"tray_rewind_hint":        "对最近的转录重新匹配",
		"tray_sign_in":            "登录...",
		"tray_sign_in_hint":       "粘贴访问令牌",
		"tray_microphone":         "麦克风...",
		"tray_microphone_hint":    "选择输入设备",
		"tray_restart":            "重启后端",
		"tray_notifications":      "通知",
		"tray_notifications_hint": "显示桌面通知",
		"tray_language":           "语言",
		"tray_quit":               "退出",
		"tray_quit_hint":          "停止后端并退出",

		// Hotkeys menu
		"tray_hotkeys":        "快捷键",
		"tray_session_hotkey": "开始/结束面试...",
		"tray_dismiss_hotkey": "关闭卡片...",

		// Notifications
		"notify_ready":        "后端已就绪",
		"notify_ready_hint":   "从托盘菜单开始面试",
		"notify_offline":      "后端离线",
		"notify_offline_hint": "正在尝试重启",
		"notify_restarted":    "后端已重启",
		"notify_failed":       "后端已停止重启",
		"notify_failed_hint":  "请在托盘菜单中选择\"重启后端\"",
		"notify_card":         "匹配到卡片",
		"notify_cloud_error":  "云端 API 错误",
		"notify_saved":        "转录已保存",
		"notify_error":        "错误",

		// Dialogs
		"dialog_hotkey_modifiers": "选择修饰键:",
		"dialog_hotkey_key":       "选择按键:",
		"dialog_token_title":      "登录",
		"dialog_token_prompt":     "访问令牌:",
		"dialog_mic_title":        "麦克风",
		"dialog_mic_prompt":       "选择输入设备:",
		"dialog_no_mics":          "未找到麦克风",
		"dialog_error_title":      "RecallAI 错误",

		// Overlay
		"overlay_close":  "按 Esc 关闭",
		"overlay_copy":   "复制",
		"overlay_copied": "已复制",

		// Startup window
		"startup_starting":   "正在启动后端...",
		"startup_restarting": "正在重启后端...",
		"startup_waiting":    "等待后端响应...",
		"startup_failed":     "后端启动失败",
		"startup_ready":      "就绪",
	},
}

// T returns the translation for the given key.
func T(key string) string {
	mu.RLock()
	defer mu.RUnlock()

	if strings, ok := translations[current]; ok {
		if s, ok := strings[key]; ok {
			return s
		}
	}
	// Fallback to key itself
	return key
}

// SetLanguage sets the current UI language. Unknown languages are ignored.
func SetLanguage(lang Language) bool {
	if _, ok := translations[lang]; !ok {
		return false
	}
	mu.Lock()
	defer mu.Unlock()
	current = lang
	return true
}

// GetLanguage returns the current UI language.
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// AvailableLanguages returns list of supported languages.
func AvailableLanguages() []Language {
	return []Language{EN, ZH}
}

// LanguageName returns display name for a language.
func LanguageName(lang Language) string {
	switch lang {
	case EN:
		return "English"
	case ZH:
		return "中文"
	default:
		return string(lang)
	}
}
