package upstream

// Source joins the ad platform and the tracker into the single metric
// source the automation reads from.
type Source struct {
	*Meta
	*Attribution
}
