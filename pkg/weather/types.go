package weather

// Report holds the current conditions for one city, pre-formatted for
// template substitution.
type Report struct {
	Description string `json:"description"`
	Temp        string `json:"temp"`
	TempMax     string `json:"tempMax"`
	Humidity    string `json:"humidity"`
	WindSpeed   string `json:"windSpeed"`
	Pressure    string `json:"pressure"`
	Cloudiness  string `json:"cloudiness"`
	City        string `json:"city"`
}

type apiResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		TempMax  float64 `json:"temp_max"`
		Humidity int     `json:"humidity"`
		Pressure int     `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Name string `json:"name"`
}
