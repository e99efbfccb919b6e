// Package content defines the news item model and the Source port the
// scheduler and monitor fetch through.
//
// Concrete sources live in subpackages: feed (RSS/Atom via gofeed) and
// scrape (HTML pages via goquery). Multi merges several sources, and Safe
// turns failures into empty results so the delivery loops never stop.
package content
