package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// speech engines
	AssemblyAIKey     string
	TTSProvider       string // "deepgram" (default) or "elevenlabs"
	DeepgramAPIKey    string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// response generation
	GoogleAIKey   string
	GoogleAIModel string

	// transcript archive
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	// conversation policy
	MaxTurns        int
	TerminalPhrases []string
	Greeting        string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - speech capture will not work")
	}

	ttsProvider := strings.ToLower(os.Getenv("TTS_PROVIDER"))
	if ttsProvider == "" {
		ttsProvider = "deepgram"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if ttsProvider == "deepgram" && deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech playback will not work")
	}
	deepgramModel := os.Getenv("DEEPGRAM_MODEL")

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	elevenVoice := os.Getenv("ELEVENLABS_VOICE_ID")
	if ttsProvider == "elevenlabs" && (elevenKey == "" || elevenVoice == "") {
		log.Println("Warning: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - speech playback will not work")
	}

	googleKey := os.Getenv("GOOGLE_API_KEY")
	if googleKey == "" {
		log.Println("Warning: GOOGLE_API_KEY not set - using scripted responses")
	}
	googleModel := os.Getenv("GOOGLE_AI_MODEL")
	if googleModel == "" {
		googleModel = "gemini-2.0-flash-exp"
	}

	maxTurns := 6
	if raw := os.Getenv("MAX_TURNS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			maxTurns = n
		} else {
			log.Printf("Warning: invalid MAX_TURNS=%q, using %d", raw, maxTurns)
		}
	}

	phrases := []string{"thank you"}
	if raw := os.Getenv("TERMINAL_PHRASES"); raw != "" {
		phrases = nil
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				phrases = append(phrases, p)
			}
		}
	}

	bucket := os.Getenv("SUPABASE_BUCKET")
	if bucket == "" {
		bucket = "transcripts"
	}

	log.Printf("config: HTTP_ADDRESS=%s MAX_TURNS=%d", addr, maxTurns)
	return Config{
		HTTPAddress:        addr,
		AssemblyAIKey:      assemblyAIKey,
		TTSProvider:        ttsProvider,
		DeepgramAPIKey:     deepgramKey,
		DeepgramModel:      deepgramModel,
		ElevenLabsKey:      elevenKey,
		ElevenLabsVoiceID:  elevenVoice,
		GoogleAIKey:        googleKey,
		GoogleAIModel:      googleModel,
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     bucket,
		MaxTurns:           maxTurns,
		TerminalPhrases:    phrases,
		Greeting:           os.Getenv("GREETING"),
	}
}
