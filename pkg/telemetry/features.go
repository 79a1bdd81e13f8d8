package telemetry

// FeatureLabel pairs a feature key with its display label.
type FeatureLabel struct {
	Key   string
	Label string
}

// DisplayFeatures lists the features shown on the dashboard, in display
// order. Proto_tcp, Proto_udp, Cause_Status and State_INT are streamed but
// not displayed.
var DisplayFeatures = []FeatureLabel{
	{Key: "Seq", Label: "Sequence Number"},
	{Key: "Dur", Label: "Duration"},
	{Key: "sHops", Label: "Source Hops"},
	{Key: "dHops", Label: "Destination Hops"},
	{Key: "SrcPkts", Label: "Source Packets"},
	{Key: "TotBytes", Label: "Total Bytes"},
	{Key: "SrcBytes", Label: "Source Bytes"},
	{Key: "Offset", Label: "Offset"},
	{Key: "sMeanPktSz", Label: "Source Mean Packet Size"},
	{Key: "dMeanPktSz", Label: "Destination Mean Packet Size"},
	{Key: "TcpRtt", Label: "TCP Round-Trip Time"},
	{Key: "AckDat", Label: "Acknowledged Data"},
	{Key: "sTtl_", Label: "Source Time To Live"},
	{Key: "dTtl_", Label: "Destination Time To Live"},
}
