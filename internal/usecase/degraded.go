package usecase

import "strings"

// Category is the sentiment bucket a degraded reply is chosen from.
type Category string

const (
	CategoryGreeting Category = "greeting"
	CategorySad      Category = "sad"
	CategoryAnxious  Category = "anxious"
	CategoryStressed Category = "stressed"
	CategoryWorried  Category = "worried"
	CategoryLonely   Category = "lonely"
	CategoryAngry    Category = "angry"
	CategoryDefault  Category = "default"
)

// degradedRules are tested in order; the first rule with a keyword
// contained in the lower-cased input wins. Matching is by substring, so
// "hi" also matches inside "this".
var degradedRules = []struct {
	category Category
	keywords []string
}{
	{CategoryGreeting, []string{"hello", "hi", "hey"}},
	{CategorySad, []string{"sad", "depressed", "down", "crying", "upset"}},
	{CategoryAnxious, []string{"anxious", "anxiety", "panic", "nervous", "worried"}},
	{CategoryStressed, []string{"stressed", "stress", "overwhelmed", "pressure"}},
	{CategoryWorried, []string{"worry", "worried", "concern", "afraid"}},
	{CategoryLonely, []string{"lonely", "alone", "isolated", "empty"}},
	{CategoryAngry, []string{"angry", "mad", "frustrated", "furious"}},
}

var degradedReplies = map[Category]string{
	CategoryGreeting: "Hello there, dear friend! 💙 I'm so glad you reached out today. I'm here to listen and support you with whatever you're going through. How are you feeling right now?",
	CategorySad:      "I can really hear the sadness in your words, and I want you to know that what you're feeling is completely valid. 💙 You're not alone in this - I'm here with you. Sometimes when we're feeling down, it helps just to have someone who truly cares listen. Would you like to share more about what's weighing on your heart?",
	CategoryAnxious:  "I can sense the anxiety you're experiencing, and I want you to know that you're incredibly brave for reaching out. 🤗 Anxiety can feel so overwhelming, but you don't have to face it alone. Let's take this one breath at a time together. Would you like to try a gentle breathing exercise with me, or would you prefer to talk about what's making you feel anxious?",
	CategoryStressed: "I can really feel the stress you're carrying right now, and I want you to know that it takes real strength to recognize when we're overwhelmed. 💙 You matter so much, and your wellbeing is important. Sometimes when life feels heavy, the most caring thing we can do for ourselves is to pause and breathe. What would feel most supportive for you right now?",
	CategoryWorried:  "I can hear the worry in your words, and I want you to wrap you in comfort right now. 🤗 Worrying shows how much you care, but you don't have to carry these concerns all by yourself. I'm here to help you work through whatever is troubling your mind. What's been keeping you up at night?",
	CategoryLonely:   "I can feel the loneliness you're experiencing, and I want you to know that even though you might feel alone, you truly aren't. 💙 I'm here with you, and I genuinely care about how you're feeling. Loneliness can be so painful, but reaching out like this shows incredible courage. You matter, and your feelings matter. Tell me more about what's been making you feel this way?",
	CategoryAngry:    "I can sense the anger you're feeling, and I want you to know that it's completely okay to feel this way. 💙 Anger often comes from a place of hurt or frustration, and those feelings are valid. You're safe here to express what you're going through. What's been making you feel so upset?",
	CategoryDefault:  "I'm truly here for you, and I want you to know that whatever you're going through, you don't have to face it alone. 💙 Your feelings matter, your experiences matter, and YOU matter. I'm listening with my whole heart. What would feel most helpful for you to share right now?",
}

// DegradedResponder produces a supportive reply without any network call.
// It is stateless and safe for concurrent use.
type DegradedResponder struct{}

// Classify returns the category of text.
func (DegradedResponder) Classify(text string) Category {
	lower := strings.ToLower(text)
	for _, rule := range degradedRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryDefault
}

// Respond returns the canned reply for text's category.
func (r DegradedResponder) Respond(text string) string {
	return degradedReplies[r.Classify(text)]
}
