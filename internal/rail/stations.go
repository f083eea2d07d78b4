package rail

var stations = map[Variant][]string{
	SRT: {
		"수서", "동탄", "평택지제", "경주", "곡성", "공주", "광주송정", "구례구", "김천(구미)", "나주", "남원",
		"대전", "동대구", "마산", "목포", "밀양", "부산", "서대구", "순천", "여수EXPO", "여천", "오송",
		"울산(통도사)", "익산", "전주", "정읍", "진영", "진주", "창원", "창원중앙", "천안아산", "포항",
	},
	KTX: {
		"서울", "용산", "영등포", "광명", "수원", "천안아산", "오송", "대전", "서대전", "김천구미", "동대구",
		"경주", "포항", "밀양", "구포", "부산", "울산(통도사)", "마산", "창원중앙", "경산", "논산", "익산",
		"정읍", "광주송정", "목포", "전주", "순천", "여수EXPO", "청량리", "강릉", "행신", "정동진",
	},
}

// Stations lists the station names v accepts in searches. The slice is a copy.
func Stations(v Variant) []string {
	return append([]string(nil), stations[v]...)
}
