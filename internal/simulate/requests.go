package simulate

import (
	"math/rand/v2"
	"sync"

	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
)

var passages = map[string][]string{
	"Science": {
		"Photosynthesis is the process by which green plants use sunlight, water and carbon dioxide to produce glucose and release oxygen into the atmosphere.",
		"The water cycle describes the continuous movement of water through evaporation, condensation, precipitation and collection.",
	},
	"Mathematics": {
		"A fraction represents a part of a whole, where the numerator counts the parts taken and the denominator counts the equal parts in the whole.",
		"The area of a rectangle is obtained by multiplying its length by its breadth, and it is measured in square units.",
	},
	"History": {
		"The Indus Valley Civilization flourished around 2500 BCE and is known for its planned cities, drainage systems and standardized weights.",
	},
	"Geography": {
		"The monsoon winds bring heavy seasonal rainfall to the Indian subcontinent between June and September.",
	},
	"Social Studies": {
		"Local self-government allows people in villages and towns to make decisions about the services that affect their daily lives.",
	},
	"English": {
		"A paragraph develops one main idea through a topic sentence followed by supporting details and a concluding sentence.",
	},
}

// Requests returns a generator of valid random requests. Roughly one in
// four asks for audio.
func Requests(seed uint64) func() pipeline.Request {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, ^seed))
	langs := pipeline.SupportedLanguages()
	subjects := pipeline.SupportedSubjects()

	return func() pipeline.Request {
		mu.Lock()
		defer mu.Unlock()

		subject := subjects[rng.IntN(len(subjects))]
		texts := passages[subject]
		format := pipeline.FormatText
		switch rng.IntN(8) {
		case 0:
			format = pipeline.FormatAudio
		case 1:
			format = pipeline.FormatBoth
		}
		return pipeline.Request{
			Text:           texts[rng.IntN(len(texts))],
			TargetLanguage: langs[rng.IntN(len(langs))],
			Grade:          pipeline.MinGrade + rng.IntN(pipeline.MaxGrade-pipeline.MinGrade+1),
			Subject:        subject,
			OutputFormat:   format,
		}
	}
}
