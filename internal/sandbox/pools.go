package sandbox

import "github.com/ehr/workspace/internal/domain/prevention"

var (
	firstNamesMale = []string{
		"James", "Robert", "John", "Michael", "David", "William", "Richard",
		"Joseph", "Thomas", "Charles", "Daniel", "Matthew", "Anthony", "Mark",
		"Steven", "Paul", "Andrew", "Kevin", "Brian", "George", "Samuel",
	}
	firstNamesFemale = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Barbara", "Elizabeth",
		"Susan", "Jessica", "Sarah", "Karen", "Nancy", "Margaret", "Emily",
		"Michelle", "Carol", "Laura", "Anna", "Helen", "Rachel", "Maria",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Wilson",
		"Anderson", "Taylor", "Moore", "Jackson", "Lee", "Thompson", "Nguyen",
	}

	conditions = []string{
		"Hypertension", "Type 2 diabetes", "Asthma", "Hyperlipidemia",
		"COPD", "Osteoarthritis", "Depression", "Hypothyroidism",
		"Atrial fibrillation", "Chronic kidney disease",
	}

	providers = []string{
		"Dr. Amelia Hart", "Dr. Rohan Mehta", "Dr. Chen Wei",
		"Dr. Olivia Brooks", "Dr. Samuel Okafor",
	}
	rooms = []string{"Room 101", "Room 102", "Room 204", "Procedure Suite A"}

	visitReasons = []string{
		"Annual physical", "Follow-up visit", "Medication review",
		"Blood pressure check", "Diabetes management", "Lab results review",
		"Post-operative check", "New patient intake",
	}
	transcriptLines = []string{
		"Reports feeling well overall with no new complaints.",
		"Notes intermittent fatigue over the past two weeks.",
		"Denies chest pain, shortness of breath or palpitations.",
		"Adherent to current medications with no side effects.",
		"Describes improved sleep since last visit.",
	}
	plans = []string{
		"Continue current regimen and recheck in three months.",
		"Ordered basic metabolic panel and lipid panel.",
		"Adjusted dosage; follow up in four weeks.",
		"Referred to nutrition counseling.",
	}
	tags = []string{"follow-up", "chronic-care", "preventive", "acute", "labs"}
)

type templateDef struct {
	name        string
	description string
	category    prevention.Category
	gender      prevention.Gender
	frequency   string
	// -1 means unbounded
	minAge, maxAge int
}

var catalog = []templateDef{
	{"Blood pressure screening", "Office blood pressure measurement", prevention.CategoryScreening, prevention.GenderAll, "Annually", 18, -1},
	{"Colorectal cancer screening", "Colonoscopy or stool-based testing", prevention.CategoryScreening, prevention.GenderAll, "Every 10 years", 45, 75},
	{"Mammography", "Screening mammogram", prevention.CategoryScreening, prevention.GenderFemale, "Every 2 years", 40, 74},
	{"Cervical cancer screening", "Cytology with or without HPV testing", prevention.CategoryScreening, prevention.GenderFemale, "Every 3 years", 21, 65},
	{"Prostate cancer screening discussion", "Shared decision making on PSA testing", prevention.CategoryScreening, prevention.GenderMale, "As indicated", 55, 69},
	{"Diabetes screening", "HbA1c or fasting glucose for adults with overweight", prevention.CategoryScreening, prevention.GenderAll, "Every 3 years", 35, 70},
	{"Influenza vaccine", "Seasonal influenza immunization", prevention.CategoryVaccination, prevention.GenderAll, "Annually", -1, -1},
	{"Pneumococcal vaccine", "PCV20 or PCV15 followed by PPSV23", prevention.CategoryVaccination, prevention.GenderAll, "Once", 65, -1},
	{"HPV vaccine", "Human papillomavirus series", prevention.CategoryVaccination, prevention.GenderAll, "Series", 9, 26},
	{"Smoking cessation counseling", "Behavioral counseling and pharmacotherapy", prevention.CategoryLifestyle, prevention.GenderAll, "Every visit", 18, -1},
	{"Physical activity counseling", "Exercise and weight management guidance", prevention.CategoryLifestyle, prevention.GenderAll, "Annually", 18, -1},
	{"Statin therapy review", "Primary prevention of cardiovascular disease", prevention.CategoryMedication, prevention.GenderAll, "Annually", 40, 75},
}
