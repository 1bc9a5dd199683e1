package planner

import "math/rand/v2"

// Portraits maps influencer names to their image catalogs. Order is given
// separately because map iteration is unordered.
type Portraits struct {
	Order  []string
	Images map[string][]string
}

// Add appends an influencer with its images. Influencers without images are
// ignored.
func (p *Portraits) Add(name string, images []string) {
	if len(images) == 0 {
		return
	}
	if p.Images == nil {
		p.Images = make(map[string][]string)
	}
	if _, seen := p.Images[name]; !seen {
		p.Order = append(p.Order, name)
	}
	p.Images[name] = append(p.Images[name], images...)
}

// Empty reports whether no influencer has images.
func (p Portraits) Empty() bool {
	return len(p.Order) == 0
}

func backgroundsOrBlank(backgrounds []string) []string {
	if len(backgrounds) == 0 {
		return []string{""}
	}
	return backgrounds
}

// EnumerateCross emits one job per video × background × influencer × image,
// in that nesting order. An empty background list means backgrounds are not
// used.
func EnumerateCross(kind Kind, videos, backgrounds []string, portraits Portraits) []Job {
	var jobs []Job
	for _, video := range videos {
		for _, background := range backgroundsOrBlank(backgrounds) {
			for _, name := range portraits.Order {
				for _, image := range portraits.Images[name] {
					jobs = append(jobs, Job{
						Kind:       kind,
						Influencer: name,
						Video:      video,
						Background: background,
						Person:     image,
					})
				}
			}
		}
	}
	return reindex(jobs)
}

// EnumerateInterleaved emits, for each video × background pair, round i of
// every influencer that still has an i-th image, until the longest catalog is
// exhausted.
func EnumerateInterleaved(kind Kind, videos, backgrounds []string, portraits Portraits) []Job {
	rounds := 0
	for _, name := range portraits.Order {
		rounds = max(rounds, len(portraits.Images[name]))
	}
	var jobs []Job
	for _, video := range videos {
		for _, background := range backgroundsOrBlank(backgrounds) {
			for round := 0; round < rounds; round++ {
				for _, name := range portraits.Order {
					images := portraits.Images[name]
					if round >= len(images) {
						continue
					}
					jobs = append(jobs, Job{
						Kind:       kind,
						Influencer: name,
						Video:      video,
						Background: background,
						Person:     images[round],
					})
				}
			}
		}
	}
	return reindex(jobs)
}

// SampleRandom shuffles the videos, then for each influencer shuffles its pool
// and draws one random image per video. When backgrounds are given one is drawn
// per job. The final list is shuffled so influencers are not grouped.
func SampleRandom(kind Kind, rnd *rand.Rand, videos, backgrounds []string, portraits Portraits) []Job {
	shuffledVideos := append([]string(nil), videos...)
	rnd.Shuffle(len(shuffledVideos), func(i, j int) {
		shuffledVideos[i], shuffledVideos[j] = shuffledVideos[j], shuffledVideos[i]
	})

	var jobs []Job
	for _, name := range portraits.Order {
		pool := append([]string(nil), portraits.Images[name]...)
		if len(pool) == 0 {
			continue
		}
		rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for _, video := range shuffledVideos {
			job := Job{
				Kind:       kind,
				Influencer: name,
				Video:      video,
				Person:     pool[rnd.IntN(len(pool))],
			}
			if len(backgrounds) > 0 {
				job.Background = backgrounds[rnd.IntN(len(backgrounds))]
			}
			jobs = append(jobs, job)
		}
	}
	rnd.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })
	return reindex(jobs)
}
