package moves

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
)

const (
	minSteps = 2

	nameMin, nameMax                       = 3, 100
	descriptionMin, descriptionMax         = 10, 500
	stepTitleMin, stepTitleMax             = 3, 150
	stepDescriptionMin, stepDescriptionMax = 10, 150
)

var languagePattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)

// Content 是创建或编辑动作时提交的全部文本。
type Content struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Level        database.Level         `json:"level"`
	Steps        []StepContent          `json:"steps"`
	Translations map[string]Translation `json:"translations,omitempty"`
}

// StepContent 的顺序即步骤顺序，order_index 从 1 开始。
type StepContent struct {
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Translations map[string]StepText `json:"translations,omitempty"`
}

type Translation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       string `json:"level,omitempty"`
}

type StepText struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (c Content) normalized() Content {
	out := Content{
		Name:        strings.TrimSpace(c.Name),
		Description: strings.TrimSpace(c.Description),
		Level:       database.Level(strings.TrimSpace(string(c.Level))),
		Steps:       make([]StepContent, len(c.Steps)),
	}
	for i, step := range c.Steps {
		out.Steps[i] = StepContent{
			Title:       strings.TrimSpace(step.Title),
			Description: strings.TrimSpace(step.Description),
		}
		if len(step.Translations) > 0 {
			out.Steps[i].Translations = make(map[string]StepText, len(step.Translations))
			for lang, text := range step.Translations {
				out.Steps[i].Translations[strings.ToLower(strings.TrimSpace(lang))] = StepText{
					Title:       strings.TrimSpace(text.Title),
					Description: strings.TrimSpace(text.Description),
				}
			}
		}
	}
	if len(c.Translations) > 0 {
		out.Translations = make(map[string]Translation, len(c.Translations))
		for lang, tr := range c.Translations {
			out.Translations[strings.ToLower(strings.TrimSpace(lang))] = Translation{
				Name:        strings.TrimSpace(tr.Name),
				Description: strings.TrimSpace(tr.Description),
				Level:       strings.TrimSpace(tr.Level),
			}
		}
	}
	return out
}

// validate 收集全部字段错误后一次性返回。
func (c Content) validate() error {
	fields := map[string]string{}

	checkLength(fields, "name", c.Name, nameMin, nameMax)
	checkLength(fields, "description", c.Description, descriptionMin, descriptionMax)
	if !c.Level.Valid() {
		fields["level"] = "must be one of Beginner, Intermediate, Advanced"
	}

	if len(c.Steps) < minSteps {
		fields["steps"] = fmt.Sprintf("at least %d steps are required", minSteps)
	}
	for i, step := range c.Steps {
		prefix := fmt.Sprintf("steps[%d]", i)
		checkLength(fields, prefix+".title", step.Title, stepTitleMin, stepTitleMax)
		checkLength(fields, prefix+".description", step.Description, stepDescriptionMin, stepDescriptionMax)
		for lang, text := range step.Translations {
			key := prefix + ".translations." + lang
			if !languagePattern.MatchString(lang) {
				fields[key] = "invalid language code"
				continue
			}
			checkLength(fields, key+".title", text.Title, stepTitleMin, stepTitleMax)
			checkLength(fields, key+".description", text.Description, stepDescriptionMin, stepDescriptionMax)
		}
	}

	for lang, tr := range c.Translations {
		key := "translations." + lang
		if !languagePattern.MatchString(lang) {
			fields[key] = "invalid language code"
			continue
		}
		checkLength(fields, key+".name", tr.Name, nameMin, nameMax)
		checkLength(fields, key+".description", tr.Description, descriptionMin, descriptionMax)
		if utf8.RuneCountInString(tr.Level) > 32 {
			fields[key+".level"] = "must be at most 32 characters"
		}
	}

	if len(fields) > 0 {
		return errcode.ValidationFields(fields)
	}
	return nil
}

func checkLength(fields map[string]string, key, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		fields[key] = fmt.Sprintf("must be between %d and %d characters", min, max)
	}
}

// ValidLanguage 判断语言代码是否形如 "fr" 或 "pt-br"。
func ValidLanguage(lang string) bool {
	return languagePattern.MatchString(lang)
}
