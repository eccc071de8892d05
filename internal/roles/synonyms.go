package roles

// Synonym maps a lowercase variant or abbreviation to a canonical role.
type Synonym struct {
	Pattern   string
	Canonical string
}

// Canonical role labels.
const (
	DentalNurse               = "Dental Nurse"
	TraineeDentalNurse        = "Trainee Dental Nurse"
	Dentist                   = "Dentist"
	DentalHygienist           = "Dental Hygienist"
	DentalTherapist           = "Dental Therapist"
	Receptionist              = "Receptionist"
	PracticeManager           = "Practice Manager"
	TreatmentCoordinator      = "Treatment Coordinator"
	AdvancedNursePractitioner = "ANP"
	PracticeNurse             = "Practice Nurse"
	GeneralPractitioner       = "GP"
	HealthcareAssistant       = "Healthcare Assistant"
	Pharmacist                = "Pharmacist"
	Paramedic                 = "Paramedic"
)

// DefaultSynonyms is the built-in synonym table. Order matters only to break
// ties between equally long substring matches: earlier entries win.
var DefaultSynonyms = []Synonym{
	{"dental nurse", DentalNurse},
	{"dn", DentalNurse},
	{"rdn", DentalNurse},
	{"qualified dental nurse", DentalNurse},
	{"registered dental nurse", DentalNurse},
	{"qualified nurse", DentalNurse},

	{"trainee dental nurse", TraineeDentalNurse},
	{"tdn", TraineeDentalNurse},
	{"trainee nurse", TraineeDentalNurse},
	{"student dental nurse", TraineeDentalNurse},

	{"dentist", Dentist},
	{"associate dentist", Dentist},
	{"associate", Dentist},
	{"gdp", Dentist},
	{"general dental practitioner", Dentist},
	{"bds", Dentist},

	{"dental hygienist", DentalHygienist},
	{"hygienist", DentalHygienist},
	{"dh", DentalHygienist},

	{"dental therapist", DentalTherapist},
	{"hygiene therapist", DentalTherapist},
	{"hygienist therapist", DentalTherapist},
	{"therapist", DentalTherapist},

	{"receptionist", Receptionist},
	{"dental receptionist", Receptionist},
	{"reception", Receptionist},
	{"front desk", Receptionist},
	{"front of house", Receptionist},

	{"practice manager", PracticeManager},
	{"pm", PracticeManager},
	{"deputy practice manager", PracticeManager},

	{"treatment coordinator", TreatmentCoordinator},
	{"tco", TreatmentCoordinator},
	{"tc", TreatmentCoordinator},

	{"anp", AdvancedNursePractitioner},
	{"advanced nurse practitioner", AdvancedNursePractitioner},
	{"nurse practitioner", AdvancedNursePractitioner},
	{"np", AdvancedNursePractitioner},

	{"practice nurse", PracticeNurse},
	{"pn", PracticeNurse},
	{"general practice nurse", PracticeNurse},

	{"gp", GeneralPractitioner},
	{"general practitioner", GeneralPractitioner},
	{"salaried gp", GeneralPractitioner},
	{"locum gp", GeneralPractitioner},

	{"healthcare assistant", HealthcareAssistant},
	{"health care assistant", HealthcareAssistant},
	{"hca", HealthcareAssistant},

	{"pharmacist", Pharmacist},
	{"clinical pharmacist", Pharmacist},

	{"paramedic", Paramedic},
}
