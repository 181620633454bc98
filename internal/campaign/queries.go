package campaign

// deform GraphQL 查詢

const userLoginQuery = `mutation UserLogin($data: UserLoginInput!) {
  userLogin(data: $data)
}`

const activitiesQuery = `query CampaignActivitiesPanel($campaignId: String!) {
  campaign(id: $campaignId) {
    activities {
      id
      title
      type
      properties
      records {
        id
        status
        activityId
        __typename
      }
      __typename
    }
    __typename
  }
}`

const verifyActivityQuery = `mutation VerifyActivity($data: VerifyActivityInput!) {
  verifyActivity(data: $data) {
    record {
      id
      activityId
      status
      properties
      createdAt
      __typename
    }
    missionRecord {
      id
      missionId
      status
      __typename
    }
    __typename
  }
}`

const userMeQuery = `query UserMe($campaignId: String!) {
  userMe {
    id
    campaignSpot(campaignId: $campaignId) {
      id
      points
      referralCode
      referralCodeEditsRemaining
      __typename
    }
    __typename
  }
}`
