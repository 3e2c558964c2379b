package narrative

import "fmt"

// Kind selects the prompt template.
type Kind string

const (
	KindStory       Kind = "story"
	KindContextList Kind = "list"
)

// BuildPrompt renders the user prompt for persona p in locale loc.
func BuildPrompt(p Persona, loc Locale, kind Kind) string {
	if kind == KindContextList {
		if loc == LocaleArabic {
			return fmt.Sprintf("قدم سياقًا تاريخيًا موجزًا عن فلسطين في عام %d، وتحديدًا حول %s. أعد فقط قائمة منقطة من 5-7 حقائق تاريخية رئيسية باللغة العربية، كل منها يبدأ بشرطة (-). لا تتضمن أي نصوص إضافية أو عناوين أو شروحات خارج القائمة، وتأكد من أن الرد باللغة العربية فقط.",
				p.Year, p.City)
		}
		return fmt.Sprintf("Provide a concise historical context about Palestine in %d, specifically around %s. Return only a bulleted list of 5-7 key historical facts, each starting with a dash (-). Do not include any narrative, story, or additional text beyond the list.",
			p.Year, p.City)
	}

	if loc == LocaleArabic {
		sex := "امرأة"
		if p.Sex == SexMale {
			sex = "رجل"
		}
		return fmt.Sprintf("اكتب قصة قصيرة خيالية (حوالي 300 كلمة) عن %s، %d عامًا، %s يعيش في %s، فلسطين في عام %d. ركز على حياتهم اليومية الشخصية، التحديات، والتجارب الثقافية كفرد. لا تتضمن حقائق تاريخية أو قوائم أو أي مقدمة/خاتمة؛ ابدأ مباشرة بالقصة.",
			p.Name, p.Age, sex, p.City, p.Year)
	}
	return fmt.Sprintf("Write a 300-word fictional story about %s, a %d-year-old %s living in %s, Palestine in %d. The story must focus on their personal daily life, challenges, and cultural experiences as an individual. Do NOT generate a bulleted list, historical facts, or any introductory remarks like \"Here's the story\" or \"Okay\"; start directly with the narrative text and provide only the story.",
		p.Name, p.Age, p.Sex, p.City, p.Year)
}

// SystemInstruction constrains the response language and shape for kind.
func SystemInstruction(loc Locale, kind Kind) string {
	lang := "Respond only in English"
	if loc == LocaleArabic {
		lang = "Respond only in Arabic"
	}
	if kind == KindContextList {
		return lang + " with a bulleted list of facts. Do not generate stories or additional text."
	}
	return lang + " with a fictional narrative story. Do not generate lists or introductory remarks."
}
