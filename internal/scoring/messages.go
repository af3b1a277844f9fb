package scoring

import "fmt"

type catalog struct {
	correct string
	close   string
	minor   string
	wrong   string
}

var catalogs = map[Locale]catalog{
	LocaleArabic: {
		correct: "ممتاز! نطق صحيح",
		close:   "قريب جداً، الصواب: %s",
		minor:   "خطأ بسيط، الصواب: %s",
		wrong:   "خطأ، الصواب: %s",
	},
	LocaleEnglish: {
		correct: "Excellent! Correct pronunciation",
		close:   "Very close, the correct word is: %s",
		minor:   "Minor mistake, the correct word is: %s",
		wrong:   "Wrong, the correct word is: %s",
	},
}

func (c catalog) message(color Color, expected string) string {
	switch color {
	case ColorGreen:
		return c.correct
	case ColorYellow:
		return fmt.Sprintf(c.close, expected)
	case ColorOrange:
		return fmt.Sprintf(c.minor, expected)
	default:
		return fmt.Sprintf(c.wrong, expected)
	}
}
