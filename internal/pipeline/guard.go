package pipeline

import "regexp"

// safetyReply is sent whenever a message asks for, or a generated reply
// drifts into, medical advice. It is never produced by the language model.
const safetyReply = "I'm not able to give medical advice. For questions about symptoms, " +
	"medication, or treatment, please speak with your provider directly. " +
	"If this is an emergency, call your local emergency number right away."

type advicePattern struct {
	re     *regexp.Regexp
	reason string
}

var advicePatterns = []advicePattern{
	{regexp.MustCompile(`(?i)\b\d+\s?(mg|ml|mcg|milligrams?|millilitres?)\b`), "advice:dosage"},
	{regexp.MustCompile(`(?i)\b(take|taking|stop taking|double)\s+(your\s+)?(ibuprofen|paracetamol|acetaminophen|aspirin|antibiotics?|medication|meds|dose)\b`), "advice:medication_directive"},
	{regexp.MustCompile(`(?i)\byou (should|must|need to)\s+(take|stop|increase|decrease|skip)\b`), "advice:directive"},
	{regexp.MustCompile(`(?i)\b(diagnos(is|e|ed|ing)|prescri(be|bed|ption))\b`), "advice:diagnosis"},
	{regexp.MustCompile(`(?i)\byour (symptoms?|condition) (suggests?|indicates?|means?)\b`), "advice:interpretation"},
}

// scanReplyForAdvice checks an outbound reply for medical-advice content
// that slipped past the intent gate. It returns the detection reasons; an
// empty list means the reply is safe to send.
func scanReplyForAdvice(reply string) []string {
	var reasons []string
	for _, p := range advicePatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
		}
	}
	return reasons
}
