package assistant

import (
	"fmt"
	"strings"

	"github.com/jimdaga/amma-portal/internal/models"
)

// Topics the keyword responder recognises.
const (
	TopicDiagnosis   = "diagnosis"
	TopicMedication  = "medication"
	TopicSideEffects = "side_effects"
	TopicRecovery    = "recovery"
	TopicAppointment = "appointment"
	TopicDiet        = "diet"
	TopicExercise    = "exercise"
	TopicAllergy     = "allergy"
	TopicEmergency   = "emergency"
	TopicMenu        = "menu"
)

type topic struct {
	name     string
	keywords []string
}

// Checked in order; the first topic with a matching keyword wins.
var topics = []topic{
	{TopicDiagnosis, []string{"diagnosis", "condition", "what do i have", "what is wrong"}},
	{TopicMedication, []string{"medication", "medicine", "pill", "drug", "taking"}},
	{TopicSideEffects, []string{"side effect", "tired", "fatigue", "nausea", "sick"}},
	{TopicRecovery, []string{"recovery", "heal", "better", "prognosis"}},
	{TopicAppointment, []string{"appointment", "next", "when", "schedule"}},
	{TopicDiet, []string{"eat", "food", "diet", "nutrition"}},
	{TopicExercise, []string{"exercise", "activity", "walk", "workout"}},
	{TopicAllergy, []string{"allergy", "allergic", "allergies"}},
	{TopicEmergency, []string{"emergency", "call", "help", "worried"}},
}

// Classify returns the topic of a patient message.
func Classify(message string) string {
	lower := strings.ToLower(message)
	for _, t := range topics {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.name
			}
		}
	}
	return TopicMenu
}

// KeywordReply answers from the patient's snapshot without calling a model.
// snap may be nil when the patient has no synced record.
func KeywordReply(message string, snap *models.HealthSnapshot) string {
	switch Classify(message) {
	case TopicDiagnosis:
		return diagnosisReply(snap)
	case TopicMedication:
		return medicationReply(snap)
	case TopicSideEffects:
		return "Feeling tired or a little queasy can be a normal side effect of treatment. Here's what helps:\n\n" +
			"• **For tiredness**: Rest when you need to and take short walks when you feel up to it.\n\n" +
			"• **For nausea**: Eat small, bland meals. Ginger tea can also help.\n\n" +
			"If side effects get worse, let your doctor know right away."
	case TopicRecovery:
		return "Recovery takes time, and every day counts. Focus on rest, eating well, taking your medicines on time, " +
			"and going to all your appointments. Your recovery plan shows what to work on each day."
	case TopicAppointment:
		return "Your care team will let you know about upcoming visits and scans. Keep your phone nearby, " +
			"and message your doctor through the portal if you are unsure when your next appointment is."
	case TopicDiet:
		return "Good nutrition helps your body heal. Here's what helps:\n\n" +
			"• **Eat protein**: chicken, fish, eggs and beans help repair your body\n" +
			"• **Stay hydrated**: drink 8+ glasses of water daily\n" +
			"• **Small meals**: eat 5-6 small meals instead of 3 big ones\n\n" +
			"If food tastes different or you have no appetite, try bland foods like crackers, toast or soup."
	case TopicExercise:
		return "Light activity is good for you! But take it easy:\n\n" +
			"✅ **OK to do**: Short walks, gentle stretching, light housework\n" +
			"❌ **Avoid for now**: Heavy lifting and intense workouts\n\n" +
			"Start with 10-15 minute walks and increase slowly. Listen to your body and rest when you feel tired."
	case TopicAllergy:
		return allergyReply(snap)
	case TopicEmergency:
		return "Call your doctor or go to the ER if something feels wrong.\n\n" +
			"🚨 **Call 911**: Trouble breathing, chest pain, a seizure, sudden confusion or trouble speaking\n\n" +
			"📞 **Call your doctor**: Fever over 100.4°F, vomiting that won't stop, or signs of infection\n\n" +
			"You can also message through the patient portal for non-urgent questions."
	default:
		return "Hi! I'm here to help you understand your health. You can ask me about:\n\n" +
			"• Your diagnosis\n" +
			"• Your medications and what they do\n" +
			"• Managing side effects\n" +
			"• Your recovery and next steps\n" +
			"• Diet and activity\n" +
			"• When to call your doctor\n\n" +
			"What would you like to know?"
	}
}

func diagnosisReply(snap *models.HealthSnapshot) string {
	if snap == nil || len(snap.Diagnoses) == 0 {
		return "I don't see a diagnosis in your health record yet. Once your doctor syncs your record, I can explain it in simple words."
	}

	var b strings.Builder
	b.WriteString("Here is what your health record lists:\n\n")
	for _, d := range snap.Diagnoses {
		fmt.Fprintf(&b, "• **%s**", d.Name)
		if d.Status != "" {
			fmt.Fprintf(&b, " (%s)", strings.ToLower(d.Status))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAsk your doctor if you would like any of these explained in more detail.")
	return b.String()
}

func medicationReply(snap *models.HealthSnapshot) string {
	if snap == nil || len(snap.Medications) == 0 {
		return "I don't see any medications in your health record yet. Please check with your doctor before starting or stopping any medicine."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You're taking %d medication%s. Here's how to take each one:\n\n", len(snap.Medications), plural(len(snap.Medications)))
	for _, m := range snap.Medications {
		fmt.Fprintf(&b, "• **%s**: %s\n", m.Name, m.Sig)
	}
	b.WriteString("\nTry to take your medicines at the same times every day and never skip a dose without asking your doctor.")
	return b.String()
}

func allergyReply(snap *models.HealthSnapshot) string {
	if snap == nil || len(snap.Allergies) == 0 {
		return "I don't see any allergies in your health record. Always tell a new doctor or pharmacist about any reactions you've had."
	}

	var b strings.Builder
	b.WriteString("Your health record lists these allergies:\n\n")
	for _, a := range snap.Allergies {
		fmt.Fprintf(&b, "• **%s**", a.Substance)
		if a.Reaction != "" {
			fmt.Fprintf(&b, ": %s", a.Reaction)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAlways remind any doctor, nurse or pharmacist about these before a new medicine or scan.")
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
