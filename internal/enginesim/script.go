package enginesim

import "fmt"

// fieldOrder is the sequence of answers the scripted interview collects.
var fieldOrder = []string{"name", "age", "number", "address", "pay"}

// questions holds the interview prompts per language and field.
var questions = map[string]map[string]string{
	"en": {
		"name":    "Hello! Welcome to MASON job application. Let's get started. What's your full name?",
		"age":     "Great! And how old are you?",
		"number":  "Perfect. What's the best phone number to reach you at?",
		"address": "Got it. Where do you currently live? Please tell me your full address.",
		"pay":     "Almost done! What monthly salary are you looking for?",
	},
	"hi": {
		"name":    "नमस्ते! MASON नौकरी आवेदन में आपका स्वागत है। चलिए शुरू करते हैं। आपका पूरा नाम क्या है?",
		"age":     "बहुत अच्छा! और आपकी उम्र क्या है?",
		"number":  "बढ़िया। आपसे संपर्क करने के लिए सबसे अच्छा फोन नंबर क्या है?",
		"address": "समझ गया। आप वर्तमान में कहाँ रहते हैं? कृपया अपना पूरा पता बताएं।",
		"pay":     "लगभग हो गया! आप कितनी मासिक वेतन की उम्मीद कर रहे हैं?",
	},
	"ta": {
		"name":    "வணக்கம்! MASON வேலை விண்ணப்பத்திற்கு வரவேற்கிறோம். தொடங்குவோம். உங்கள் முழு பெயர் என்ன?",
		"age":     "நல்லது! உங்கள் வயது என்ன?",
		"number":  "சரி. உங்களை தொடர்பு கொள்ள சிறந்த தொலைபேசி எண் என்ன?",
		"address": "புரிந்தது. நீங்கள் தற்போது எங்கு வசிக்கிறீர்கள்? உங்கள் முழு முகவரியை சொல்லுங்கள்.",
		"pay":     "கிட்டத்தட்ட முடிந்தது! நீங்கள் எவ்வளவு மாதாந்திர சம்பளம் எதிர்பார்க்கிறீர்கள்?",
	},
}

var completions = map[string]string{
	"en": "Perfect! We've got all your information. Thank you for applying with MASON! We'll review your application and get back to you soon. Have a great day!",
	"hi": "बिल्कुल सही! हमें आपकी सभी जानकारी मिल गई है। MASON के साथ आवेदन करने के लिए धन्यवाद! आपका दिन शुभ हो!",
	"ta": "சரியானது! உங்கள் அனைத்து தகவல்களையும் பெற்றுவிட்டோம். MASON உடன் விண்ணப்பித்ததற்கு நன்றி! நல்ல நாள்!",
}

func supportedLanguage(lang string) bool {
	_, ok := questions[lang]
	return ok
}

// fakeTranscript stands in for real speech-to-text, which the simulator
// deliberately does not do. It labels the answer by its payload size so the
// client's diagnostic transcript display has something to show.
func fakeTranscript(field string, audioBytes int) string {
	return fmt.Sprintf("(spoken %s, %d bytes of audio)", field, audioBytes)
}
