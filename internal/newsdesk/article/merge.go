package article

// Merge collapses records sharing a Key. The last record seen wins for every
// scalar field; categories become the union of all records' categories in
// first-seen order, compared by slug. Output keeps the first-seen order of
// keys. Merge does not modify its input and Merge(Merge(x)) == Merge(x).
func Merge(batch []Article) []Article {
	if len(batch) == 0 {
		return nil
	}

	index := make(map[Key]int, len(batch))
	out := make([]Article, 0, len(batch))
	cats := make([][]string, 0, len(batch))

	for _, a := range batch {
		k := a.Key()
		i, seen := index[k]
		if !seen {
			i = len(out)
			index[k] = i
			out = append(out, a)
			cats = append(cats, nil)
		} else {
			out[i] = a
		}
		cats[i] = append(cats[i], a.Categories...)
	}

	for i := range out {
		out[i].Categories = uniqueCategories(cats[i])
	}
	return out
}

// uniqueCategories drops blank names and names whose slug was already seen.
func uniqueCategories(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		slug := Slug(name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, name)
	}
	return out
}
